package memory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/agentic-memory/epimem/config"
	"github.com/agentic-memory/epimem/memory"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/retrieval"
)

type EngineSuite struct {
	suite.Suite
	engine *memory.Engine
}

func (s *EngineSuite) SetupTest() {
	dir := s.T().TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.DurableURL = filepath.Join(dir, "durable.db")
	cfg.Database.CachePath = filepath.Join(dir, "jetstream")
	cfg.Learning.Workers = 1
	cfg.Learning.QueueSize = 10

	eng, err := memory.New(context.Background(), cfg)
	require.NoError(s.T(), err)
	s.engine = eng
}

func (s *EngineSuite) TearDownTest() {
	require.NoError(s.T(), s.engine.Close(context.Background()))
}

func (s *EngineSuite) TestFullLifecycleRoundTrip() {
	ctx := context.Background()

	id, err := s.engine.StartEpisode(ctx, "fix flaky test", model.TaskDebugging, model.Context{Domain: "web", Language: "go"})
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), id)

	require.NoError(s.T(), s.engine.LogStep(ctx, id, "grep", "search_for_failure", nil,
		&model.StepResult{Kind: model.StepSuccess, Output: "found"}, 12, nil, nil))

	require.NoError(s.T(), s.engine.CompleteEpisode(ctx, id, &model.TaskOutcome{Kind: model.OutcomeSuccess, Verdict: "fixed"}))

	results, err := s.engine.Retrieve(ctx, retrieval.Query{
		QueryText: "flaky test",
		Context:   model.Context{Domain: "web"},
		Limit:     5,
	})
	require.NoError(s.T(), err)
	s.Require().NotNil(results)
}

func (s *EngineSuite) TestHealthCheckPassesAgainstFreshEngine() {
	require.NoError(s.T(), s.engine.HealthCheck(context.Background()))
}

func (s *EngineSuite) TestRunDecayPassIsSafeWithNoPatterns() {
	require.NoError(s.T(), s.engine.RunDecayPass(context.Background()))
}

func (s *EngineSuite) TestDeleteEpisodeAfterCompletion() {
	ctx := context.Background()
	id, err := s.engine.StartEpisode(ctx, "one-off task", model.TaskOther, model.Context{Domain: "cli"})
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.engine.CompleteEpisode(ctx, id, &model.TaskOutcome{Kind: model.OutcomeSuccess}))
	require.NoError(s.T(), s.engine.DeleteEpisode(ctx, id))
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
