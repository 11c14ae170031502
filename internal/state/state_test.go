package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bhdir/bhdir/internal/filer"
	"github.com/stretchr/testify/suite"
)

type StateSuite struct {
	suite.Suite
	dir string
	f   *filer.Filer
}

func (s *StateSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.f = filer.New(nil, nil)
}

func (s *StateSuite) TestStartWritesHeartbeatFile() {
	st := New(s.f, s.dir, nil)
	s.Require().NoError(st.Start(context.Background()))
	defer st.Stop()

	data, err := os.ReadFile(filepath.Join(s.dir, st.SessionID()+".json"))
	s.Require().NoError(err)

	var sess Session
	s.Require().NoError(json.Unmarshal(data, &sess))
	s.Equal(st.SessionID(), sess.ID)
	s.Equal(sess.Started, sess.Updated)
}

func (s *StateSuite) TestSweepRemovesExpiredPeers() {
	st := New(s.f, s.dir, nil)
	s.Require().NoError(st.Start(context.Background()))
	defer st.Stop()

	stalePath := filepath.Join(s.dir, "dead-peer.json")
	s.Require().NoError(os.WriteFile(stalePath, []byte(`{"id":"dead-peer","started":0,"updated":0}`), 0644))
	old := time.Now().Add(-ExpirationTimeout - time.Minute)
	s.Require().NoError(os.Chtimes(stalePath, old, old))

	st.sweep()

	_, err := os.Stat(stalePath)
	s.True(os.IsNotExist(err))

	live, err := st.ListLive()
	s.Require().NoError(err)
	s.Contains(live, st.SessionID())
	s.NotContains(live, "dead-peer")
}

func TestStateSuite(t *testing.T) {
	suite.Run(t, new(StateSuite))
}
