package learning_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/agentic-memory/epimem/learning"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/patterns"
	"github.com/agentic-memory/epimem/storage/localstore"
	"github.com/agentic-memory/epimem/storage/sqlitestore"
	"github.com/agentic-memory/epimem/sync"
)

type OrchestratorSuite struct {
	suite.Suite
	durable *sqlitestore.Store
	cache   *localstore.Store
	syncEng *sync.Engine
	orch    *learning.Orchestrator
}

func (s *OrchestratorSuite) SetupTest() {
	dbPath := filepath.Join(s.T().TempDir(), "epimem.db")
	durable, err := sqlitestore.New(sqlitestore.Config{Path: dbPath})
	require.NoError(s.T(), err)
	s.durable = durable

	cache, err := localstore.New(context.Background(), localstore.Config{StoreDir: filepath.Join(s.T().TempDir(), "jetstream")})
	require.NoError(s.T(), err)
	s.cache = cache

	s.syncEng = sync.New(durable, cache, sync.Config{})
	s.orch = learning.New(s.syncEng, nil, learning.Config{QueueSize: 10, Workers: 1})
}

func (s *OrchestratorSuite) TearDownTest() {
	s.orch.Stop()
	require.NoError(s.T(), s.durable.Close())
	require.NoError(s.T(), s.cache.Close())
}

func (s *OrchestratorSuite) waitForPatterns(episodeID string, timeout time.Duration) []*model.Pattern {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ep, err := s.durable.GetEpisode(context.Background(), episodeID)
		if err == nil && len(ep.PatternIDs) > 0 {
			var out []*model.Pattern
			for _, id := range ep.PatternIDs {
				p, err := s.durable.GetPattern(context.Background(), id)
				if err == nil {
					out = append(out, p)
				}
			}
			return out
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (s *OrchestratorSuite) TestEnqueueExtractsAndPersistsPatterns() {
	ctx := context.Background()
	ep := &model.Episode{
		TaskType:  model.TaskDebugging,
		Context:   model.Context{Domain: "web", Language: "go"},
		StartTime: time.Now(),
		Steps: []model.ExecutionStep{
			{StepNumber: 1, ToolName: "validator", Action: "check_if_input_valid", Result: &model.StepResult{Kind: model.StepSuccess}},
			{StepNumber: 2, ToolName: "writer", Action: "write_file", Result: &model.StepResult{Kind: model.StepSuccess}},
		},
		Outcome: &model.TaskOutcome{Kind: model.OutcomeSuccess},
	}
	require.NoError(s.T(), s.syncEng.CommitEpisode(ctx, ep))

	require.NoError(s.T(), s.orch.Enqueue(ctx, ep))

	found := s.waitForPatterns(ep.EpisodeID, 2*time.Second)
	s.Require().NotEmpty(found)
}

func (s *OrchestratorSuite) TestEnqueueReturnsErrorWhenQueueFull() {
	orch := learning.New(s.syncEng, nil, learning.Config{QueueSize: 2, Workers: 0, EnqueueDeadline: 50 * time.Millisecond})
	ctx := context.Background()

	ep1 := &model.Episode{EpisodeID: "e1", Context: model.Context{Domain: "x"}, StartTime: time.Now()}
	ep2 := &model.Episode{EpisodeID: "e2", Context: model.Context{Domain: "x"}, StartTime: time.Now()}
	ep3 := &model.Episode{EpisodeID: "e3", Context: model.Context{Domain: "x"}, StartTime: time.Now()}

	require.NoError(s.T(), orch.Enqueue(ctx, ep1))
	require.NoError(s.T(), orch.Enqueue(ctx, ep2))

	err := orch.Enqueue(ctx, ep3)
	s.Require().Error(err)
}

func (s *OrchestratorSuite) TestRunDecayPassRemovesStalePatterns() {
	ctx := context.Background()
	stale := &model.Pattern{
		Kind: model.PatternToolSequence, OccurrenceCount: 1, SuccessRate: 0.2,
		UpdatedAt: time.Now().Add(-3650 * 24 * time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(s.T(), s.syncEng.CommitPattern(ctx, stale))

	orch := learning.New(s.syncEng, nil, learning.Config{
		Decay: func() patterns.DecayConfig {
			return patterns.DecayConfig{Lambda: 0.01, RetainThreshold: 0.05, PinThreshold: 0.95}
		}(),
	})
	defer orch.Stop()

	require.NoError(s.T(), orch.RunDecayPass(ctx))

	_, err := s.durable.GetPattern(ctx, stale.ID)
	s.Require().Error(err)
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}
