// Package state implements bhdir's per-session liveness heartbeat: a file
// written every updateInterval under the configured state directory, and a
// sweep that deletes other sessions' stale entries, per spec.md §4.7.
// Grounded on petomalina-pot.Server's heartbeat goroutine pair
// (refresh ticker + cleanup ticker over a shared directory).
package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/google/uuid"
)

const (
	// UpdateInterval is how often this session refreshes its heartbeat file.
	UpdateInterval = 60 * time.Second
	// CleanInterval is how often the state directory is swept for dead peers.
	CleanInterval = 10 * time.Second
	// ExpirationTimeout is how stale a peer's heartbeat file's mtime may get
	// before it is considered dead and removed.
	ExpirationTimeout = 5 * time.Minute
)

// Session is a {id, started, updated} heartbeat record, per spec.md §4.7.
type Session struct {
	ID      string `json:"id"`
	Started uint32 `json:"started"`
	Updated uint32 `json:"updated"`
}

// State manages this daemon's session heartbeat and the liveness sweep of
// its peers.
type State struct {
	filer    *filer.Filer
	stateDir string
	log      *slog.Logger

	sessionID string
	started   uint32

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New mints a fresh session id and constructs a State rooted at stateDir.
func New(f *filer.Filer, stateDir string, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		filer:     f,
		stateDir:  stateDir,
		log:       logger,
		sessionID: uuid.New().String(),
		started:   nowUTC(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SessionID returns this daemon's session id, minted once at New and used
// as the upgrade-in-progress marker in a folder's .bhdir.json.
func (s *State) SessionID() string {
	return s.sessionID
}

// Start writes the initial heartbeat and launches the refresh and cleanup
// loops.
func (s *State) Start(ctx context.Context) error {
	if err := s.filer.CreateDirectory(s.stateDir, filer.WriteOpts{Mode: 0755}); err != nil {
		return err
	}
	if err := s.writeHeartbeat(); err != nil {
		return err
	}

	go s.loop(ctx)
	return nil
}

// Stop halts the refresh/cleanup loops. It does not remove this session's
// heartbeat file — a dead session is reaped by a peer's cleanup sweep like
// any other, per spec.md §4.7.
func (s *State) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *State) loop(ctx context.Context) {
	defer close(s.doneCh)

	updateT := time.NewTicker(UpdateInterval)
	defer updateT.Stop()
	cleanT := time.NewTicker(CleanInterval)
	defer cleanT.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-updateT.C:
			if err := s.writeHeartbeat(); err != nil {
				s.log.Error("failed to refresh session heartbeat", "error", err.Error())
			}
		case <-cleanT.C:
			s.sweep()
		}
	}
}

func (s *State) path(sessionID string) string {
	return filepath.Join(s.stateDir, sessionID+".json")
}

func (s *State) writeHeartbeat() error {
	sess := Session{ID: s.sessionID, Started: s.started, Updated: nowUTC()}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.filer.LockWrite(s.path(s.sessionID), data, filer.WriteOpts{Mode: 0644})
}

// sweep deletes every heartbeat file whose observed mtime is older than
// ExpirationTimeout, per spec.md §4.7.
func (s *State) sweep() {
	entries, err := os.ReadDir(s.stateDir)
	if err != nil {
		s.log.Debug("failed to list state directory", "error", err.Error())
		return
	}

	cutoff := time.Now().Add(-ExpirationTimeout)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			p := filepath.Join(s.stateDir, e.Name())
			if err := s.filer.Remove(p); err != nil {
				s.log.Debug("failed to remove stale session file", "file", e.Name(), "error", err.Error())
			}
		}
	}
}

// ListLive returns the ids of sessions with a heartbeat file newer than
// ExpirationTimeout.
func (s *State) ListLive() ([]string, error) {
	entries, err := os.ReadDir(s.stateDir)
	if err != nil {
		return nil, bherrors.Wrap(bherrors.ErrIo, "list %s: %v", s.stateDir, err)
	}

	cutoff := time.Now().Add(-ExpirationTimeout)
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
	}
	return ids, nil
}

func nowUTC() uint32 {
	return uint32(time.Now().UTC().Unix())
}
