package watcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/index"
	"github.com/stretchr/testify/suite"
)

type WatcherSuite struct {
	suite.Suite
	root  string
	f     *filer.Filer
	cache *cacher.Cacher
	dir   *directory.Directory
	j     *Journal
	w     *Watcher
}

func (s *WatcherSuite) SetupTest() {
	s.root = s.T().TempDir()
	folderDir := s.root + "/data"
	s.f = filer.New(nil, nil)
	idx := index.New(s.root, s.f, nil, nil)
	s.cache = cacher.New(nil)
	s.j = NewJournal(s.f, folderDir+"/updates")
	s.dir = directory.New(directory.Config{Root: s.root, DirMode: 0755, FileMode: 0644}, s.f, s.cache, idx, "session-a", s.j, nil, nil)
	s.w = New(s.f, s.dir, s.cache, folderDir, nil, nil)

	s.Require().NoError(s.w.Start())
	s.T().Cleanup(s.w.Stop)
}

func (s *WatcherSuite) TestDeleteEventUnsetsCache() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", directory.SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)

	_, ok := s.cache.Get(ctx, "/a/b")
	s.Require().True(ok)

	s.Require().NoError(s.j.Append(ctx, "peer-session", []directory.JournalEvent{
		{Event: "delete", Path: "/a/b", MTime: 0},
	}))

	s.Eventually(func() bool {
		_, ok := s.cache.Get(ctx, "/a/b")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *WatcherSuite) TestSweepEvictsStaleWatchedEntries() {
	s.Require().NoError(s.j.Append(context.Background(), "session-a", []directory.JournalEvent{
		{Event: "delete", Path: "/a/b", MTime: 0},
	}))

	s.Eventually(func() bool {
		s.w.mu.Lock()
		defer s.w.mu.Unlock()
		return len(s.w.watched) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.w.mu.Lock()
	for _, wf := range s.w.watched {
		wf.addedAt = time.Now().Add(-staleAfter - time.Minute)
	}
	s.w.mu.Unlock()

	s.w.sweepOnce()

	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	s.Empty(s.w.watched)
}

func (s *WatcherSuite) TestAddrForChildBuildsFolderPrefixedPath() {
	s.Equal("/a/b", directory.AddrForChild("", "/a", "b"))
	s.Equal("archive:/a/b", directory.AddrForChild("archive", "/a", "b"))
}

func TestWatcherSuite(t *testing.T) {
	suite.Run(t, new(WatcherSuite))
}
