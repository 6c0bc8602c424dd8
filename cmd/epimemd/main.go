package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentic-memory/epimem/config"
	"github.com/agentic-memory/epimem/memory"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/retrieval"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := memory.New(ctx, cfg)
	if err != nil {
		log.Fatalf("memory.New: %v", err)
	}
	defer func() {
		if err := engine.Close(context.Background()); err != nil {
			log.Printf("engine close: %v", err)
		}
	}()

	if err := runDemoEpisode(ctx, engine); err != nil {
		log.Printf("demo episode: %v", err)
	}

	log.Println("epimemd running, decay pass every hour")
	runDecayLoop(ctx, engine)
}

// runDemoEpisode records one illustrative episode end-to-end so a
// fresh deployment has something to retrieve immediately.
func runDemoEpisode(ctx context.Context, engine *memory.Engine) error {
	id, err := engine.StartEpisode(ctx, "investigate flaky integration test",
		model.TaskDebugging, model.Context{Domain: "ci", Language: "go"})
	if err != nil {
		return err
	}

	if err := engine.LogStep(ctx, id, "test_runner", "rerun_with_verbose", nil,
		&model.StepResult{Kind: model.StepSuccess, Output: "reproduced on 3rd attempt"}, 850, nil, nil); err != nil {
		return err
	}

	if err := engine.CompleteEpisode(ctx, id, &model.TaskOutcome{
		Kind: model.OutcomeSuccess, Verdict: "root cause found: unseeded RNG",
	}); err != nil {
		return err
	}

	results, err := engine.Retrieve(ctx, retrieval.Query{
		QueryText: "flaky test",
		Context:   model.Context{Domain: "ci"},
		Limit:     5,
	})
	if err != nil {
		return err
	}
	log.Printf("retrieved %d related episodes", len(results))
	return nil
}

// runDecayLoop periodically sweeps pattern effectiveness (spec.md §4.8)
// and cross-backend reconciliation (§4.12) until ctx is cancelled.
// Neither pass runs per-episode — see learning.Orchestrator.RunDecayPass
// and memory.Engine.RunReconciliation's doc comments.
func runDecayLoop(ctx context.Context, engine *memory.Engine) {
	decayTicker := time.NewTicker(time.Hour)
	defer decayTicker.Stop()
	reconcileTicker := time.NewTicker(6 * time.Hour)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("shutting down")
			return
		case <-decayTicker.C:
			if err := engine.RunDecayPass(ctx); err != nil {
				log.Printf("decay pass: %v", err)
			}
		case <-reconcileTicker.C:
			if err := engine.RunReconciliation(ctx); err != nil {
				log.Printf("reconciliation pass: %v", err)
			}
		}
	}
}
