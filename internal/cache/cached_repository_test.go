package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type stubRepo struct {
	rules    map[string]*domain.Rule
	getCalls int
}

func newStubRepo() *stubRepo {
	return &stubRepo{rules: make(map[string]*domain.Rule)}
}

func (s *stubRepo) SaveRule(ctx context.Context, rule *domain.Rule) error {
	s.rules[rule.ID] = rule
	return nil
}

func (s *stubRepo) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	s.getCalls++
	rule, ok := s.rules[ruleID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return rule, nil
}

func (s *stubRepo) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	var out []*domain.Rule
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubRepo) DeleteRule(ctx context.Context, ruleID string) error {
	delete(s.rules, ruleID)
	return nil
}

func (s *stubRepo) SaveEvaluationSummary(ctx context.Context, runID string, summary *domain.EvaluationSummary) error {
	return nil
}

func (s *stubRepo) GetEvaluationSummaries(ctx context.Context, runID string) ([]*domain.EvaluationSummary, error) {
	return nil, nil
}

func (s *stubRepo) Ping(ctx context.Context) error { return nil }
func (s *stubRepo) Close() error                   { return nil }

func TestCachedRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("GetRuleHitsCacheOnSecondRead", func(t *testing.T) {
		repo := newStubRepo()
		cached := NewCachedRepository(repo, NewLRUCache(10), time.Minute)

		rule := domain.NewRule("Cached Rule", "=[A] > 0", domain.RuleParams{ID: "rule-c1"})
		repo.rules[rule.ID] = rule

		if _, err := cached.GetRule(ctx, "rule-c1"); err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if _, err := cached.GetRule(ctx, "rule-c1"); err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}

		if repo.getCalls != 1 {
			t.Errorf("expected 1 store read, got %d", repo.getCalls)
		}
	})

	t.Run("SaveRefreshesCache", func(t *testing.T) {
		repo := newStubRepo()
		cached := NewCachedRepository(repo, NewLRUCache(10), time.Minute)

		rule := domain.NewRule("Cached Rule", "=[A] > 0", domain.RuleParams{ID: "rule-c2"})
		if err := cached.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		got, err := cached.GetRule(ctx, "rule-c2")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Formula != "=[A] > 0" {
			t.Errorf("unexpected formula: %s", got.Formula)
		}
		if repo.getCalls != 0 {
			t.Errorf("expected cache hit after save, store reads: %d", repo.getCalls)
		}
	})

	t.Run("DeleteEvictsCache", func(t *testing.T) {
		repo := newStubRepo()
		cached := NewCachedRepository(repo, NewLRUCache(10), time.Minute)

		rule := domain.NewRule("Cached Rule", "=[A] > 0", domain.RuleParams{ID: "rule-c3"})
		if err := cached.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		if err := cached.DeleteRule(ctx, "rule-c3"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}

		if _, err := cached.GetRule(ctx, "rule-c3"); err == nil {
			t.Error("expected error for deleted rule")
		}
	})
}
