package episode_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/agentic-memory/epimem/episode"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/reward"
	"github.com/agentic-memory/epimem/stepbuffer"
	"github.com/agentic-memory/epimem/storage/localstore"
	"github.com/agentic-memory/epimem/storage/sqlitestore"
	"github.com/agentic-memory/epimem/sync"
)

type fakeLearner struct {
	enqueued []*model.Episode
}

func (f *fakeLearner) Enqueue(_ context.Context, ep *model.Episode) error {
	f.enqueued = append(f.enqueued, ep)
	return nil
}

type LifecycleSuite struct {
	suite.Suite
	durable *sqlitestore.Store
	cache   *localstore.Store
	syncEng *sync.Engine
	learner *fakeLearner
	lc      *episode.Lifecycle
}

func (s *LifecycleSuite) SetupTest() {
	dbPath := filepath.Join(s.T().TempDir(), "epimem.db")
	durable, err := sqlitestore.New(sqlitestore.Config{Path: dbPath})
	require.NoError(s.T(), err)
	s.durable = durable

	cache, err := localstore.New(context.Background(), localstore.Config{StoreDir: filepath.Join(s.T().TempDir(), "jetstream")})
	require.NoError(s.T(), err)
	s.cache = cache

	s.syncEng = sync.New(durable, cache, sync.Config{})
	s.learner = &fakeLearner{}

	cfg := episode.Config{
		Batching: stepbuffer.Config{Policy: stepbuffer.PolicyManualOnly},
		Reward:   reward.Weights{EfficiencyWeight: 0.3, QualityWeight: 0.4, NoveltyWeight: 0.3, LatencyBaselineMs: 2 * time.Second, MaxInsightLength: 280},
	}
	s.lc = episode.New(s.syncEng, nil, nil, s.learner, cfg, nil)
}

func (s *LifecycleSuite) TearDownTest() {
	require.NoError(s.T(), s.durable.Close())
	require.NoError(s.T(), s.cache.Close())
}

func (s *LifecycleSuite) TestStartLogCompleteHappyPath() {
	ctx := context.Background()
	id, err := s.lc.StartEpisode(ctx, "build a widget", model.TaskCodeGeneration, model.Context{Domain: "web"})
	s.Require().NoError(err)
	s.NotEmpty(id)

	s.Require().NoError(s.lc.LogStep(ctx, id, "editor", "write_file", nil, &model.StepResult{Kind: model.StepSuccess}, 100, nil, nil))
	s.Require().NoError(s.lc.LogStep(ctx, id, "compiler", "build", nil, &model.StepResult{Kind: model.StepSuccess}, 200, nil, nil))

	s.Require().NoError(s.lc.CompleteEpisode(ctx, id, &model.TaskOutcome{Kind: model.OutcomeSuccess}))

	ep, state, err := s.lc.Get(id)
	s.Require().NoError(err)
	s.Equal(episode.StateCompleted, state)
	s.Len(ep.Steps, 2)
	s.Require().NotNil(ep.Reward)
	s.Equal(1.0, ep.Reward.Base)
	s.Require().NotNil(ep.Reflection)
	s.Len(s.learner.enqueued, 1)

	fromDurable, err := s.durable.GetEpisode(ctx, id)
	s.Require().NoError(err)
	s.Len(fromDurable.Steps, 2)
}

func (s *LifecycleSuite) TestLogStepRejectsAfterCompletion() {
	ctx := context.Background()
	id, err := s.lc.StartEpisode(ctx, "task", model.TaskDebugging, model.Context{Domain: "x"})
	s.Require().NoError(err)
	s.Require().NoError(s.lc.CompleteEpisode(ctx, id, &model.TaskOutcome{Kind: model.OutcomeSuccess}))

	err = s.lc.LogStep(ctx, id, "tool", "action", nil, nil, 0, nil, nil)
	s.Require().Error(err)
}

func (s *LifecycleSuite) TestUpdateEpisodeAllowedBeforeDeletion() {
	ctx := context.Background()
	id, err := s.lc.StartEpisode(ctx, "task", model.TaskDebugging, model.Context{Domain: "x"})
	s.Require().NoError(err)

	newDesc := "updated description"
	s.Require().NoError(s.lc.UpdateEpisode(ctx, id, &newDesc, map[string]string{"k": "v"}))

	ep, _, err := s.lc.Get(id)
	s.Require().NoError(err)
	s.Equal(newDesc, ep.Description)
	s.Equal("v", ep.Metadata["k"])
}

func (s *LifecycleSuite) TestDeleteEpisodeRemovesFromBothBackends() {
	ctx := context.Background()
	id, err := s.lc.StartEpisode(ctx, "task", model.TaskDebugging, model.Context{Domain: "x"})
	s.Require().NoError(err)

	s.Require().NoError(s.lc.DeleteEpisode(ctx, id))

	_, err = s.durable.GetEpisode(ctx, id)
	s.Require().Error(err)
	_, err = s.cache.GetEpisode(ctx, id)
	s.Require().Error(err)

	_, state, err := s.lc.Get(id)
	s.Require().NoError(err)
	s.Equal(episode.StateDeleted, state)
}

func (s *LifecycleSuite) TestCompleteEpisodeRejectsDoubleCompletion() {
	ctx := context.Background()
	id, err := s.lc.StartEpisode(ctx, "task", model.TaskDebugging, model.Context{Domain: "x"})
	s.Require().NoError(err)
	s.Require().NoError(s.lc.CompleteEpisode(ctx, id, &model.TaskOutcome{Kind: model.OutcomeSuccess}))

	err = s.lc.CompleteEpisode(ctx, id, &model.TaskOutcome{Kind: model.OutcomeSuccess})
	s.Require().Error(err)
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}
