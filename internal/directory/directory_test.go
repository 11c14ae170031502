package directory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/index"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/stretchr/testify/suite"
)

// fakeJournaler records every appended event, giving tests a way to assert
// on Set/Del's journaling side effect without a real drop-dir.
type fakeJournaler struct {
	mu     sync.Mutex
	events []JournalEvent
}

func (j *fakeJournaler) Append(ctx context.Context, sessionID string, events []JournalEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, events...)
	return nil
}

func (j *fakeJournaler) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

type DirectorySuite struct {
	suite.Suite
	root    string
	journal *fakeJournaler
	dir     *Directory
}

func (s *DirectorySuite) SetupTest() {
	s.root = s.T().TempDir()
	s.journal = &fakeJournaler{}

	f := filer.New(nil, nil)
	idx := index.New(s.root, f, nil, nil)
	cache := cacher.New(nil)
	cfg := Config{Root: s.root, DirMode: 0755, FileMode: 0644}
	s.dir = New(cfg, f, cache, idx, "session-a", s.journal, nil, nil)
}

func (s *DirectorySuite) TestGetMissingReturnsNil() {
	rec, err := s.dir.Get(context.Background(), "/a/b", true)
	s.NoError(err)
	s.Nil(rec)
}

func (s *DirectorySuite) TestSetThenGetRoundtrips() {
	ctx := context.Background()
	id, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`"hello"`)})
	s.Require().NoError(err)
	s.Require().NotNil(id)

	rec, err := s.dir.Get(ctx, "/a/b", true)
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.JSONEq(`"hello"`, string(rec.Value))
	s.NotEmpty(rec.ID.String())
	s.Equal(1, s.journal.count())
}

func (s *DirectorySuite) TestSetNoOpOnEqualValueReturnsNilID() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`{"x":1,"y":2}`)})
	s.Require().NoError(err)

	id, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`{"y":2,"x":1}`)})
	s.Require().NoError(err)
	s.Nil(id, "structurally-equal value should be a no-op even with reordered keys")
}

func (s *DirectorySuite) TestSetRejectsProtectedAttr() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{
		Value: json.RawMessage(`1`),
		Attrs: map[string]json.RawMessage{"ctime": json.RawMessage(`0`)},
	})
	s.Error(err)
}

func (s *DirectorySuite) TestExistsAndDel() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)

	ok, err := s.dir.Exists(ctx, "/a/b")
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.dir.Del(ctx, "/a/b"))

	ok, err = s.dir.Exists(ctx, "/a/b")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *DirectorySuite) TestLsListsChildren() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)
	_, err = s.dir.Set(ctx, "/a/c", SetInput{Value: json.RawMessage(`2`)})
	s.Require().NoError(err)

	children, err := s.dir.Ls(ctx, "/a")
	s.Require().NoError(err)
	s.Len(children, 2)
	s.JSONEq(`1`, string(children["b"]))
	s.JSONEq(`2`, string(children["c"]))
}

func (s *DirectorySuite) TestSetAttrGetAttrDelAttr() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)

	_, err = s.dir.SetAttr(ctx, "/a/b", "note", json.RawMessage(`"hi"`))
	s.Require().NoError(err)

	v, err := s.dir.GetAttr(ctx, "/a/b", "note")
	s.Require().NoError(err)
	s.JSONEq(`"hi"`, string(v))

	_, err = s.dir.DelAttr(ctx, "/a/b", "note")
	s.Require().NoError(err)

	v, err = s.dir.GetAttr(ctx, "/a/b", "note")
	s.Require().NoError(err)
	s.Nil(v)
}

func (s *DirectorySuite) TestSetAttrRejectsProtectedName() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)

	_, err = s.dir.SetAttr(ctx, "/a/b", "mtime", json.RawMessage(`0`))
	s.Error(err)
}

func (s *DirectorySuite) TestTouchUpdatesMTimeWithoutChangingValue() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`"v"`)})
	s.Require().NoError(err)

	rec, err := s.dir.Get(ctx, "/a/b", false)
	s.Require().NoError(err)
	before := rec.MTime

	_, err = s.dir.Touch(ctx, "/a/b")
	s.Require().NoError(err)

	rec, err = s.dir.Get(ctx, "/a/b", false)
	s.Require().NoError(err)
	s.JSONEq(`"v"`, string(rec.Value))
	s.GreaterOrEqual(rec.MTime, before)
}

func (s *DirectorySuite) TestWaitWakesOnSet() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)

	done := make(chan struct{})
	var timedOut bool
	var value json.RawMessage
	go func() {
		timedOut, value, err = s.dir.Wait(ctx, "/a/b", 0)
		close(done)
	}()

	s.Eventually(func() bool {
		s.dir.waitersMu.Lock()
		defer s.dir.waitersMu.Unlock()
		return len(s.dir.waiters["/a/b"]) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`2`)})
	s.Require().NoError(err)

	<-done
	s.Require().NoError(err)
	s.False(timedOut)
	s.JSONEq(`2`, string(value))
}

func (s *DirectorySuite) TestUploadDownloadRoundtrips() {
	ctx := context.Background()
	_, err := s.dir.Set(ctx, "/a/b", SetInput{Value: json.RawMessage(`1`)})
	s.Require().NoError(err)

	blobID, err := s.dir.Upload(ctx, "/a/b", []byte("payload"))
	s.Require().NoError(err)
	s.Require().NotNil(blobID)

	data, err := s.dir.Download(ctx, "/a/b")
	s.Require().NoError(err)
	s.Equal("payload", string(data))
}

func (s *DirectorySuite) TestCreateAndListFolders() {
	s.Require().NoError(s.dir.CreateFolder(context.Background(), "archive", model.FormatCurrent))
	names := s.dir.ListFolders()
	s.Contains(names, "")
	s.Contains(names, "archive")
}

func (s *DirectorySuite) TestValidatePath() {
	s.True(s.dir.ValidatePath("/a/b"))
	s.False(s.dir.ValidatePath("/a/.b"))
}

func TestDirectorySuite(t *testing.T) {
	suite.Run(t, new(DirectorySuite))
}
