package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CachedRepository wraps a RuleRepository with read-through caching of
// rule lookups. Writes invalidate the cached entry. Evaluation summaries
// are not cached; a run is read back far less often than rules are.
type CachedRepository struct {
	repo  domain.RuleRepository
	cache domain.Cache
	ttl   time.Duration
}

// NewCachedRepository creates a caching decorator around repo.
func NewCachedRepository(repo domain.RuleRepository, c domain.Cache, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{repo: repo, cache: c, ttl: ttl}
}

func ruleKey(ruleID string) string {
	return "rule:" + ruleID
}

// SaveRule persists the rule and refreshes the cached copy.
func (r *CachedRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if err := r.repo.SaveRule(ctx, rule); err != nil {
		return err
	}
	if data, err := json.Marshal(rule); err == nil {
		if err := r.cache.Set(ctx, ruleKey(rule.ID), data, r.ttl); err != nil {
			slog.Warn("failed to cache rule", "rule_id", rule.ID, "error", err)
		}
	}
	return nil
}

// GetRule returns the cached rule when present, falling back to the store.
func (r *CachedRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	if data, err := r.cache.Get(ctx, ruleKey(ruleID)); err == nil && data != nil {
		var rule domain.Rule
		if err := json.Unmarshal(data, &rule); err == nil {
			return &rule, nil
		}
	}

	rule, err := r.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rule); err == nil {
		if err := r.cache.Set(ctx, ruleKey(ruleID), data, r.ttl); err != nil {
			slog.Warn("failed to cache rule", "rule_id", ruleID, "error", err)
		}
	}
	return rule, nil
}

// ListRules always reads from the store so new rules appear immediately.
func (r *CachedRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.repo.ListRules(ctx)
}

// DeleteRule removes the rule and its cached copy.
func (r *CachedRepository) DeleteRule(ctx context.Context, ruleID string) error {
	if err := r.repo.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	if err := r.cache.Delete(ctx, ruleKey(ruleID)); err != nil {
		slog.Warn("failed to evict cached rule", "rule_id", ruleID, "error", err)
	}
	return nil
}

func (r *CachedRepository) SaveEvaluationSummary(ctx context.Context, runID string, summary *domain.EvaluationSummary) error {
	return r.repo.SaveEvaluationSummary(ctx, runID, summary)
}

func (r *CachedRepository) GetEvaluationSummaries(ctx context.Context, runID string) ([]*domain.EvaluationSummary, error) {
	return r.repo.GetEvaluationSummaries(ctx, runID)
}

func (r *CachedRepository) Ping(ctx context.Context) error {
	return r.repo.Ping(ctx)
}

func (r *CachedRepository) Close() error {
	return r.repo.Close()
}
