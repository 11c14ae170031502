package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type IndexSuite struct {
	suite.Suite
	dir string
	ix  *Index
}

func (s *IndexSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.ix = New(s.dir, filer.New(nil, nil), nil, nil)
}

func (s *IndexSuite) TestInsertSearchDelete() {
	id := uuid.New()
	s.ix.Insert(id, model.IndexEntryVar, "/cfg/host")

	got := s.ix.Search(id)
	s.Require().NotNil(got)
	s.Equal("/cfg/host", got.Path)

	s.ix.Delete(id)
	s.Nil(s.ix.Search(id))
}

func (s *IndexSuite) TestManyInsertsStayBalancedAndSearchable() {
	ids := make([]uuid.UUID, 0, 200)
	for i := 0; i < 200; i++ {
		id := uuid.New()
		ids = append(ids, id)
		s.ix.Insert(id, model.IndexEntryVar, "/p")
	}
	s.Equal(200, s.ix.Count())

	for _, id := range ids {
		s.Require().NotNil(s.ix.Search(id))
	}
}

func (s *IndexSuite) TestSaveLoadRoundtrip() {
	id1, id2 := uuid.New(), uuid.New()
	s.ix.Insert(id1, model.IndexEntryVar, "/a")
	s.ix.Insert(id2, model.IndexEntryHistory, "/a/.history/2026/01/01/00/0001.json")

	s.Require().NoError(s.ix.Save())

	loaded := New(s.dir, filer.New(nil, nil), nil, nil)
	s.Require().NoError(loaded.Load())

	s.Equal(2, loaded.Count())
	got := loaded.Search(id1)
	s.Require().NotNil(got)
	s.Equal("/a", got.Path)
}

func (s *IndexSuite) TestLoadDetectsCorruption() {
	id := uuid.New()
	s.ix.Insert(id, model.IndexEntryVar, "/a")
	s.Require().NoError(s.ix.Save())

	p := filepath.Join(s.dir, fileName)
	b, err := os.ReadFile(p)
	s.Require().NoError(err)
	b[len(b)-1] ^= 0xFF
	s.Require().NoError(os.WriteFile(p, b, 0644))

	loaded := New(s.dir, filer.New(nil, nil), nil, nil)
	err = loaded.Load()
	s.Error(err)
}

func (s *IndexSuite) TestBuildScansBucketsAndRepairsCorruption() {
	varsDir := filepath.Join(s.dir, "cfg")
	s.Require().NoError(os.MkdirAll(varsDir, 0755))

	id := uuid.New()
	bucketJSON := `{
    "host": {"id":"` + id.String() + `","ctime":1,"mtime":1,"value":"alpha"}
}
`
	s.Require().NoError(os.WriteFile(filepath.Join(varsDir, bucketFileName), []byte(bucketJSON), 0644))

	s.Require().NoError(s.ix.Build(context.Background()))

	got := s.ix.Search(id)
	s.Require().NotNil(got)
	s.Equal("/cfg/host", got.Path)
}

func TestIndexSuite(t *testing.T) {
	suite.Run(t, new(IndexSuite))
}
