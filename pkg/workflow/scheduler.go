package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/citygrid/sentinel/pkg/models"
	"github.com/robfig/cron/v3"
)

// Scheduler fires schedule-type workflow triggers on their cron
// expressions. Each firing creates a fresh execution through the engine.
type Scheduler struct {
	mu      sync.Mutex
	engine  *Engine
	cron    *cron.Cron
	entries map[string][]cron.EntryID
}

func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		engine: engine,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		entries: make(map[string][]cron.EntryID),
	}
}

// Add registers cron entries for every schedule trigger of the workflow,
// replacing any entries from a previous registration of the same id.
func (s *Scheduler) Add(workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries[workflow.ID] {
		s.cron.Remove(entryID)
	}

	s.entries[workflow.ID] = nil

	for _, trigger := range workflow.Triggers {
		if trigger.Type != models.TriggerTypeSchedule {
			continue
		}

		if _, err := cron.ParseStandard(trigger.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q for workflow %s: %w",
				trigger.CronExpr, workflow.ID, err)
		}

		workflowID := workflow.ID
		expr := trigger.CronExpr

		entryID, err := s.cron.AddFunc(expr, func() {
			triggerData := map[string]any{"cron": expr}

			if _, err := s.engine.Execute(context.Background(), workflowID,
				string(models.TriggerTypeSchedule), triggerData); err != nil {
				s.engine.logger.Error("Scheduled execution failed to start",
					"workflow_id", workflowID, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule workflow %s: %w", workflow.ID, err)
		}

		s.entries[workflow.ID] = append(s.entries[workflow.ID], entryID)
	}

	return nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for in-flight firings.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
