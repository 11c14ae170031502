package synclog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/index"
	"github.com/stretchr/testify/suite"
)

type SyncLogSuite struct {
	suite.Suite
	root     string
	dataDir  string
	logPath  string
	f        *filer.Filer
	cache    *cacher.Cacher
	dir      *directory.Directory
	tailer   *Tailer
}

func (s *SyncLogSuite) SetupTest() {
	s.root = s.T().TempDir()
	s.dataDir = filepath.Join(s.root, "data")
	s.logPath = filepath.Join(s.root, "sync.log")

	s.f = filer.New(nil, nil)
	idx := index.New(s.root, s.f, nil, nil)
	s.cache = cacher.New(nil)
	s.dir = directory.New(directory.Config{Root: s.root, DirMode: 0755, FileMode: 0644}, s.f, s.cache, idx, "session-a", nil, nil, nil)

	s.Require().NoError(os.WriteFile(s.logPath, nil, 0644))
	s.tailer = New(s.logPath, s.dataDir, s.dir, nil)
	s.Require().NoError(s.tailer.Start(context.Background()))
	s.T().Cleanup(s.tailer.Stop)
}

func (s *SyncLogSuite) TestFinishedDownloadingLineInvalidatesCache() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", directory.SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)

	_, ok := s.cache.Get(ctx, "/a/b")
	s.Require().True(ok)

	line := "2026-01-31 14:00:00.000 [Sync] finished downloading " + filepath.Join(s.dataDir, "a") + "/.vars.json\n"
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_WRONLY, 0644)
	s.Require().NoError(err)
	_, err = f.WriteString(line)
	s.Require().NoError(err)
	s.Require().NoError(f.Close())

	s.Eventually(func() bool {
		_, ok := s.cache.Get(ctx, "/a/b")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSyncLogSuite(t *testing.T) {
	suite.Run(t, new(SyncLogSuite))
}
