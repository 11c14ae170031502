package client

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/daemon"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/index"
	"github.com/stretchr/testify/suite"
)

type ClientSuite struct {
	suite.Suite
	d *daemon.Daemon
	c *Client
}

func (s *ClientSuite) SetupTest() {
	root := s.T().TempDir()
	f := filer.New(nil, nil)
	idx := index.New(root, f, nil, nil)
	cache := cacher.New(nil)
	dir := directory.New(directory.Config{Root: root, DirMode: 0755, FileMode: 0644}, f, cache, idx, "session-a", nil, nil, nil)

	sockPath := filepath.Join(root, "bhdir.sock")
	s.d = daemon.New(daemon.Config{Path: sockPath}, dir, nil)
	s.Require().NoError(s.d.Start())
	s.T().Cleanup(s.d.Stop)

	c, err := Dial(context.Background(), sockPath)
	s.Require().NoError(err)
	s.c = c
	s.T().Cleanup(func() { c.Close() })
}

func (s *ClientSuite) TestSetGetExistsDelRoundtrip() {
	ctx := context.Background()

	ok, err := s.c.Exists(ctx, "/a/b")
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.c.Set(ctx, "/a/b", "hello")
	s.Require().NoError(err)

	ok, err = s.c.Exists(ctx, "/a/b")
	s.Require().NoError(err)
	s.True(ok)

	val, err := s.c.Get(ctx, "/a/b")
	s.Require().NoError(err)
	s.NotNil(val)

	s.Require().NoError(s.c.Del(ctx, "/a/b"))

	ok, err = s.c.Exists(ctx, "/a/b")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ClientSuite) TestUploadDownloadRoundtrips() {
	ctx := context.Background()
	_, err := s.c.Set(ctx, "/a/b", "hello")
	s.Require().NoError(err)

	_, err = s.c.Upload(ctx, "/a/b", []byte("blob-payload"))
	s.Require().NoError(err)

	data, err := s.c.Download(ctx, "/a/b")
	s.Require().NoError(err)
	s.Equal("blob-payload", string(data))
}

func (s *ClientSuite) TestWaitTimesOutWhenUnchanged() {
	ctx := context.Background()
	res, err := s.c.Wait(ctx, "/a/b", 50)
	s.Require().NoError(err)
	s.True(res.TimedOut)
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}
