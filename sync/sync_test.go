package sync_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/storage/localstore"
	"github.com/agentic-memory/epimem/storage/sqlitestore"
	"github.com/agentic-memory/epimem/sync"
)

type EngineSuite struct {
	suite.Suite
	durable *sqlitestore.Store
	cache   *localstore.Store
	engine  *sync.Engine
}

func (s *EngineSuite) SetupTest() {
	dbPath := filepath.Join(s.T().TempDir(), "epimem.db")
	durable, err := sqlitestore.New(sqlitestore.Config{Path: dbPath})
	require.NoError(s.T(), err)
	s.durable = durable

	cache, err := localstore.New(context.Background(), localstore.Config{StoreDir: filepath.Join(s.T().TempDir(), "jetstream")})
	require.NoError(s.T(), err)
	s.cache = cache

	s.engine = sync.New(durable, cache, sync.Config{})
}

func (s *EngineSuite) TearDownTest() {
	require.NoError(s.T(), s.durable.Close())
	require.NoError(s.T(), s.cache.Close())
}

func (s *EngineSuite) TestCommitEpisodeWritesBothBackends() {
	ctx := context.Background()
	ep := &model.Episode{TaskType: model.TaskDebugging, Context: model.Context{Domain: "x"}, StartTime: time.Now()}

	require.NoError(s.T(), s.engine.CommitEpisode(ctx, ep))

	fromDurable, err := s.durable.GetEpisode(ctx, ep.EpisodeID)
	s.Require().NoError(err)
	s.Equal(ep.EpisodeID, fromDurable.EpisodeID)

	fromCache, err := s.cache.GetEpisode(ctx, ep.EpisodeID)
	s.Require().NoError(err)
	s.Equal(ep.EpisodeID, fromCache.EpisodeID)
}

func (s *EngineSuite) TestReadEpisodeBackfillsCacheOnMiss() {
	ctx := context.Background()
	ep := &model.Episode{TaskType: model.TaskDebugging, Context: model.Context{Domain: "x"}, StartTime: time.Now()}
	require.NoError(s.T(), s.durable.StoreEpisode(ctx, ep))

	_, err := s.cache.GetEpisode(ctx, ep.EpisodeID)
	s.Require().Error(err)

	got, err := s.engine.ReadEpisode(ctx, ep.EpisodeID)
	s.Require().NoError(err)
	s.Equal(ep.EpisodeID, got.EpisodeID)

	fromCache, err := s.cache.GetEpisode(ctx, ep.EpisodeID)
	s.Require().NoError(err)
	s.Equal(ep.EpisodeID, fromCache.EpisodeID)
}

func (s *EngineSuite) TestResolvePatternMostRecentComparesSuccessRate() {
	engine := sync.New(s.durable, s.cache, sync.Config{Policy: sync.PolicyMostRecent})
	durable := &model.Pattern{ID: "p1", SuccessRate: 0.9}
	cache := &model.Pattern{ID: "p1", SuccessRate: 0.4}

	got := engine.ResolvePattern(durable, cache)
	s.Equal(durable, got)
}

func (s *EngineSuite) TestResolveHeuristicCacheWinsPolicy() {
	engine := sync.New(s.durable, s.cache, sync.Config{Policy: sync.PolicyCacheWins})
	durable := &model.Heuristic{ID: "h1", UpdatedAt: time.Now()}
	cache := &model.Heuristic{ID: "h1", UpdatedAt: time.Now().Add(-time.Hour)}

	got := engine.ResolveHeuristic(durable, cache)
	s.Equal(cache, got)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
