package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/storage/sqlitestore"
)

type StoreSuite struct {
	suite.Suite
	store *sqlitestore.Store
}

func (s *StoreSuite) SetupTest() {
	path := filepath.Join(s.T().TempDir(), "epimem.db")
	store, err := sqlitestore.New(sqlitestore.Config{Path: path})
	require.NoError(s.T(), err)
	s.store = store
}

func (s *StoreSuite) TearDownTest() {
	require.NoError(s.T(), s.store.Close())
}

func (s *StoreSuite) TestStoreThenGetEpisodeRoundTrips() {
	ctx := context.Background()
	ep := &model.Episode{
		TaskType:    model.TaskCodeGeneration,
		Description: "Implement add",
		Context:     model.Context{Domain: "math"},
		StartTime:   time.Now(),
		Metadata:    map[string]string{"k": "v"},
	}
	require.NoError(s.T(), s.store.StoreEpisode(ctx, ep))
	s.Require().NotEmpty(ep.EpisodeID)

	got, err := s.store.GetEpisode(ctx, ep.EpisodeID)
	s.Require().NoError(err)
	s.Equal(ep.Description, got.Description)
	s.Equal(ep.Context.Domain, got.Context.Domain)
}

func (s *StoreSuite) TestGetEpisodeNotFound() {
	_, err := s.store.GetEpisode(context.Background(), "does-not-exist")
	s.Require().Error(err)
}

func (s *StoreSuite) TestDeleteEpisodeIsIdempotentSecondCallNotFound() {
	ctx := context.Background()
	ep := &model.Episode{TaskType: model.TaskDebugging, Context: model.Context{Domain: "x"}, StartTime: time.Now()}
	require.NoError(s.T(), s.store.StoreEpisode(ctx, ep))

	require.NoError(s.T(), s.store.DeleteEpisode(ctx, ep.EpisodeID))
	err := s.store.DeleteEpisode(ctx, ep.EpisodeID)
	s.Require().Error(err)
}

func (s *StoreSuite) TestBatchEmbeddingsRoundTrip() {
	ctx := context.Background()
	recs := []*model.EmbeddingRecord{
		{ItemID: "ep-1", ItemType: model.ItemEpisode, Vector: []float32{0.1, 0.2}, Model: "m", Dimension: 1536},
		{ItemID: "ep-2", ItemType: model.ItemEpisode, Vector: []float32{0.3, 0.4}, Model: "m", Dimension: 7}, // other-table path
	}
	require.NoError(s.T(), s.store.BatchStoreEmbeddings(ctx, recs))

	got, err := s.store.BatchGetEmbeddings(ctx, []string{"ep-1", "ep-2"}, model.ItemEpisode)
	s.Require().NoError(err)
	s.Len(got, 2)
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}
