package filer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type FilerSuite struct {
	suite.Suite
	dir   string
	filer *Filer
}

func (s *FilerSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.filer = New(nil, nil)
}

func (s *FilerSuite) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FilerSuite) TestLockReadNotFound() {
	_, err := s.filer.LockRead(s.path("missing.json"))
	s.Error(err)
}

func (s *FilerSuite) TestLockWriteThenRead() {
	p := s.path("bucket.json")
	s.Require().NoError(s.filer.LockWrite(p, []byte(`{"a":1}`), WriteOpts{}))

	b, err := s.filer.LockRead(p)
	s.Require().NoError(err)
	s.JSONEq(`{"a":1}`, string(b))
}

func (s *FilerSuite) TestLockWriteLeavesNoTempOrLockFile() {
	p := s.path("bucket.json")
	s.Require().NoError(s.filer.LockWrite(p, []byte(`{}`), WriteOpts{}))

	_, err := os.Stat(p + ".tmp")
	s.True(os.IsNotExist(err))
	_, err = os.Stat(p + ".lock")
	s.True(os.IsNotExist(err))
}

func (s *FilerSuite) TestLockUpdateNoOpWhenUnchanged() {
	p := s.path("bucket.json")
	s.Require().NoError(s.filer.LockWrite(p, []byte(`{"a":1}`), WriteOpts{}))
	before, err := os.Stat(p)
	s.Require().NoError(err)

	time.Sleep(10 * time.Millisecond)
	err = s.filer.LockUpdate(p, func(cur []byte) ([]byte, error) {
		return cur, nil
	}, WriteOpts{})
	s.Require().NoError(err)

	after, err := os.Stat(p)
	s.Require().NoError(err)
	s.Equal(before.ModTime(), after.ModTime())
}

func (s *FilerSuite) TestLockUpdateMutatesMissingFileAsEmpty() {
	p := s.path("new-bucket.json")
	err := s.filer.LockUpdate(p, func(cur []byte) ([]byte, error) {
		s.Empty(cur)
		return []byte(`{"leaf":{"id":"x"}}`), nil
	}, WriteOpts{})
	s.Require().NoError(err)

	b, err := s.filer.LockRead(p)
	s.Require().NoError(err)
	s.JSONEq(`{"leaf":{"id":"x"}}`, string(b))
}

func (s *FilerSuite) TestCreateDirectoryMkdirP() {
	target := s.path("a/b/c")
	s.Require().NoError(s.filer.CreateDirectory(target, WriteOpts{Mode: 0755}))

	info, err := os.Stat(target)
	s.Require().NoError(err)
	s.True(info.IsDir())
}

func (s *FilerSuite) TestRemoveRecursive() {
	target := s.path("tree")
	s.Require().NoError(s.filer.CreateDirectory(filepath.Join(target, "sub"), WriteOpts{}))
	s.Require().NoError(s.filer.Remove(target))

	_, err := os.Stat(target)
	s.True(os.IsNotExist(err))
}

func (s *FilerSuite) TestReadJSONWithRetrySucceedsOnValidFile() {
	p := s.path("bucket.json")
	s.Require().NoError(s.filer.LockWrite(p, []byte(`{"x":1}`), WriteOpts{}))

	var out map[string]int
	err := s.filer.ReadJSONWithRetry(context.Background(), p, &out)
	s.Require().NoError(err)
	s.Equal(1, out["x"])
}

func (s *FilerSuite) TestReadJSONWithRetryExhaustsOnCorruptFile() {
	p := s.path("bucket.json")
	s.Require().NoError(os.WriteFile(p, []byte(`{"x":`), 0644))

	var out map[string]int
	start := time.Now()
	err := s.filer.ReadJSONWithRetry(context.Background(), p, &out)
	s.Error(err)
	// DataRetryMax-1 sleeps of DataRetryInterval each must have elapsed.
	s.GreaterOrEqual(time.Since(start), time.Duration(DataRetryMax-1)*DataRetryInterval)
}

func (s *FilerSuite) TestMarshalIndentRoundtrips() {
	in := map[string]int{"a": 1}
	b, err := json.MarshalIndent(in, "", "    ")
	s.Require().NoError(err)

	var m map[string]int
	s.Require().NoError(json.Unmarshal(b, &m))
	s.Equal(in, m)
}

func TestFilerSuite(t *testing.T) {
	suite.Run(t, new(FilerSuite))
}
