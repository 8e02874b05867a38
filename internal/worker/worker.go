// Package worker provides async evaluation processing from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker processes evaluation requests asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.RuleRepository
	provider  domain.DatasetProvider
	evaluator *rules.Evaluator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async evaluation worker.
func NewWorker(bus domain.EventBus, repo domain.RuleRepository, provider domain.DatasetProvider, evaluator *rules.Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		provider:  provider,
		evaluator: evaluator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the evaluation request topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEvaluationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("evaluation worker started",
		"topic", domain.TopicEvaluationRequested,
	)
	return nil
}

// EvaluationRequest is the message payload for an async evaluation run.
type EvaluationRequest struct {
	RunID       string   `json:"runId,omitempty"`
	Source      string   `json:"source"`
	RuleIDs     []string `json:"ruleIds,omitempty"`
	PartyColumn string   `json:"partyColumn,omitempty"`
}

// EvaluationCompleted is published when a run finishes.
type EvaluationCompleted struct {
	RunID      string                    `json:"runId"`
	Source     string                    `json:"source"`
	RuleCount  int                       `json:"ruleCount"`
	Scores     map[string]scoring.Result `json:"scores"`
	DurationMs int64                     `json:"durationMs"`
}

// EvaluationFailed is published when a run cannot complete.
type EvaluationFailed struct {
	RunID  string `json:"runId"`
	Source string `json:"source"`
	Error  string `json:"error"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req EvaluationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse evaluation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.processRun(ctx, &req); err != nil {
		payload, _ := json.Marshal(EvaluationFailed{
			RunID:  req.RunID,
			Source: req.Source,
			Error:  err.Error(),
		})
		if pubErr := w.bus.Publish(ctx, domain.TopicEvaluationFailed, payload); pubErr != nil {
			slog.Error("failed to publish failure event",
				"run_id", req.RunID,
				"error", pubErr,
			)
		}
		return err
	}
	return nil
}

// processRun loads the dataset, evaluates rules, persists summaries and
// publishes the completion event with IAG scores.
func (w *Worker) processRun(ctx context.Context, req *EvaluationRequest) error {
	start := time.Now()

	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	if req.Source == "" {
		return fmt.Errorf("evaluation request missing source")
	}

	slog.Debug("processing evaluation run",
		"run_id", req.RunID,
		"source", req.Source,
		"rule_ids", len(req.RuleIDs),
	)

	ds, err := w.provider.Load(ctx, req.Source)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	var results map[string]*rules.Result
	if len(req.RuleIDs) > 0 {
		results = w.evaluator.EvaluateRuleIDs(ctx, req.RuleIDs, ds, req.PartyColumn)
	} else {
		results, err = w.evaluator.EvaluateAllRules(ctx, ds, req.PartyColumn)
		if err != nil {
			return fmt.Errorf("failed to evaluate rules: %w", err)
		}
	}

	// Persist per-rule summaries under the run
	for _, result := range results {
		if err := w.repo.SaveEvaluationSummary(ctx, req.RunID, result.Summary()); err != nil {
			slog.Error("failed to save evaluation summary",
				"run_id", req.RunID,
				"rule_id", result.Rule().ID,
				"error", err,
			)
		}
	}

	// IAG scores per responsible party plus the overall roll-up
	statusesByParty := make(map[string][]domain.ComplianceStatus)
	for _, result := range results {
		for party, status := range result.StatusesByParty() {
			statusesByParty[party] = append(statusesByParty[party], status)
		}
	}
	scores := scoring.OverallScore(statusesByParty)

	payload, _ := json.Marshal(EvaluationCompleted{
		RunID:      req.RunID,
		Source:     req.Source,
		RuleCount:  len(results),
		Scores:     scores,
		DurationMs: time.Since(start).Milliseconds(),
	})
	if err := w.bus.Publish(ctx, domain.TopicEvaluationCompleted, payload); err != nil {
		slog.Error("failed to publish completion event",
			"run_id", req.RunID,
			"error", err,
		)
	}

	slog.Info("evaluation run processed",
		"run_id", req.RunID,
		"source", req.Source,
		"rule_count", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("evaluation worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
