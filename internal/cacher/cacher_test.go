package cacher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type CacherSuite struct {
	suite.Suite
	ctx context.Context
	c   *Cacher
}

func (s *CacherSuite) SetupTest() {
	s.ctx = context.Background()
	s.c = New(nil)
}

func (s *CacherSuite) TestGetMissingIsNotOK() {
	_, ok := s.c.Get(s.ctx, "/a/b")
	s.False(ok)
}

func (s *CacherSuite) TestSetThenGetPositive() {
	rec := &model.Record{ID: uuid.New(), Value: json.RawMessage(`"alpha"`)}
	s.c.Set(s.ctx, "/cfg/host", rec)

	entry, ok := s.c.Get(s.ctx, "/cfg/host")
	s.True(ok)
	s.True(entry.Present)
	s.Require().NotNil(entry.Record)
	s.Equal(rec.ID, entry.Record.ID)
}

func (s *CacherSuite) TestSetNilIsNegativeEntry() {
	s.c.Set(s.ctx, "/missing", nil)

	entry, ok := s.c.Get(s.ctx, "/missing")
	s.True(ok)
	s.True(entry.Present)
	s.Nil(entry.Record)
}

func (s *CacherSuite) TestUnsetRemovesEntry() {
	s.c.Set(s.ctx, "/a", nil)
	s.c.Unset(s.ctx, "/a")

	_, ok := s.c.Get(s.ctx, "/a")
	s.False(ok)
}

func (s *CacherSuite) TestFlushClearsEverything() {
	s.c.Set(s.ctx, "/a", nil)
	s.c.Set(s.ctx, "/b", &model.Record{ID: uuid.New()})

	s.Require().NoError(s.c.Flush(s.ctx))

	_, okA := s.c.Get(s.ctx, "/a")
	_, okB := s.c.Get(s.ctx, "/b")
	s.False(okA)
	s.False(okB)
}

func TestCacherSuite(t *testing.T) {
	suite.Run(t, new(CacherSuite))
}
