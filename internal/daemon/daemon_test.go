package daemon

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/index"
	"github.com/bhdir/bhdir/internal/wire"
	"github.com/stretchr/testify/suite"
)

type DaemonSuite struct {
	suite.Suite
	d    *Daemon
	conn net.Conn
}

func (s *DaemonSuite) SetupTest() {
	root := s.T().TempDir()
	f := filer.New(nil, nil)
	idx := index.New(root, f, nil, nil)
	cache := cacher.New(nil)
	dir := directory.New(directory.Config{Root: root, DirMode: 0755, FileMode: 0644}, f, cache, idx, "session-a", nil, nil, nil)

	s.d = New(Config{Path: filepath.Join(root, "bhdir.sock")}, dir, nil)
	s.Require().NoError(s.d.Start())
	s.T().Cleanup(s.d.Stop)

	conn, err := net.Dial("unix", s.d.cfg.Path)
	s.Require().NoError(err)
	s.conn = conn
	s.T().Cleanup(func() { conn.Close() })
}

func (s *DaemonSuite) call(id, command string, args ...any) wire.Response {
	rawArgs := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		s.Require().NoError(err)
		rawArgs[i] = b
	}
	req := wire.Request{ID: id, Command: command, Args: rawArgs}
	payload, err := json.Marshal(req)
	s.Require().NoError(err)
	s.Require().NoError(wire.WriteFrame(s.conn, payload))

	respPayload, err := wire.ReadFrame(s.conn)
	s.Require().NoError(err)
	var resp wire.Response
	s.Require().NoError(json.Unmarshal(respPayload, &resp))
	return resp
}

func (s *DaemonSuite) TestSetThenGetRoundtrips() {
	resp := s.call("1", "set", "/a/b", 42)
	s.True(resp.Success)

	resp = s.call("2", "get", "/a/b")
	s.True(resp.Success)
}

func (s *DaemonSuite) TestUnknownCommandFails() {
	resp := s.call("1", "bogus")
	s.False(resp.Success)
	s.NotEmpty(resp.Message)
}

func (s *DaemonSuite) TestOutOfScopeNetworkingCommandFails() {
	resp := s.call("1", "network-create")
	s.False(resp.Success)
}

func (s *DaemonSuite) TestMalformedFrameClosesConnection() {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 3)
	_, err := s.conn.Write(lenBuf[:])
	s.Require().NoError(err)
	_, err = s.conn.Write([]byte("{{{"))
	s.Require().NoError(err)

	_, err = wire.ReadFrame(s.conn)
	s.True(err == io.EOF || err != nil)
}

func TestDaemonSuite(t *testing.T) {
	suite.Run(t, new(DaemonSuite))
}
