package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.RuleRepository
	cache     domain.Cache
	bus       domain.EventBus
	evaluator *rules.Evaluator
	provider  domain.DatasetProvider
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.RuleRepository, cache domain.Cache, bus domain.EventBus, evaluator *rules.Evaluator, provider domain.DatasetProvider, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		evaluator: evaluator,
		provider:  provider,
		version:   version,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
// Data is provided either inline (columns + rows) or as a file source.
type EvaluateRequest struct {
	RunID       string           `json:"runId,omitempty"`
	Source      string           `json:"source,omitempty"`
	Columns     []string         `json:"columns,omitempty"`
	Rows        []map[string]any `json:"rows,omitempty"`
	RuleIDs     []string         `json:"ruleIds,omitempty"`
	PartyColumn string           `json:"partyColumn,omitempty"`
}

// RuleResultView is one rule's outcome in the evaluation response.
type RuleResultView struct {
	Summary      *domain.EvaluationSummary `json:"summary"`
	FailingItems int                       `json:"failingItems"`
	PartySummary []domain.PartySummary     `json:"partySummary,omitempty"`
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	RunID        string                    `json:"runId"`
	Results      []RuleResultView          `json:"results"`
	Scores       map[string]scoring.Result `json:"scores"`
	Distribution *scoring.Distribution     `json:"distribution,omitempty"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /evaluate requests synchronously.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	ds, err := h.resolveDataset(r, &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	var results map[string]*rules.Result
	if len(req.RuleIDs) > 0 {
		results = h.evaluator.EvaluateRuleIDs(ctx, req.RuleIDs, ds, req.PartyColumn)
	} else {
		results, err = h.evaluator.EvaluateAllRules(ctx, ds, req.PartyColumn)
		if err != nil {
			slog.Error("rule evaluation failed", "run_id", runID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "rule evaluation failed",
			})
			return
		}
	}

	// Persist summaries and assemble the response
	views := make([]RuleResultView, 0, len(results))
	statusesByParty := make(map[string][]domain.ComplianceStatus)
	for _, result := range results {
		summary := result.Summary()
		if err := h.repo.SaveEvaluationSummary(ctx, runID, summary); err != nil {
			slog.Error("failed to save evaluation summary",
				"run_id", runID,
				"rule_id", summary.RuleID,
				"error", err,
			)
		}

		views = append(views, RuleResultView{
			Summary:      summary,
			FailingItems: result.FailingItems().Len(),
			PartySummary: result.ComplianceSummaryByParty(""),
		})

		for party, status := range result.StatusesByParty() {
			statusesByParty[party] = append(statusesByParty[party], status)
		}
	}

	scores := scoring.OverallScore(statusesByParty)

	resp := EvaluateResponse{
		RunID:   runID,
		Results: views,
		Scores:  scores,
	}
	if dist, ok := scoring.ScoreDistribution(scores); ok {
		resp.Distribution = &dist
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// resolveDataset builds the dataset from inline rows or a file source.
func (h *Handler) resolveDataset(r *http.Request, req *EvaluateRequest) (*domain.Dataset, error) {
	if len(req.Columns) > 0 {
		rows := make([]domain.Row, len(req.Rows))
		for i, raw := range req.Rows {
			rows[i] = domain.Row(raw)
		}
		return domain.NewDataset(req.Columns, rows), nil
	}

	if req.Source == "" {
		return nil, errors.New("either columns or source is required")
	}
	if h.provider == nil {
		return nil, errors.New("dataset provider not available")
	}

	ds, err := h.provider.Load(r.Context(), req.Source)
	if err != nil {
		return nil, errors.New("failed to load dataset: " + err.Error())
	}
	return ds, nil
}

// EvaluateAsync handles POST /evaluate/async by queueing the run on the bus.
func (h *Handler) EvaluateAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "source is required for async evaluation",
		})
		return
	}

	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	payload, _ := json.Marshal(map[string]any{
		"runId":       req.RunID,
		"source":      req.Source,
		"ruleIds":     req.RuleIDs,
		"partyColumn": req.PartyColumn,
	})
	if err := h.bus.Publish(ctx, domain.TopicEvaluationRequested, payload); err != nil {
		slog.Error("failed to queue evaluation", "run_id", req.RunID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue evaluation",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"runId":  req.RunID,
		"status": "queued",
	})
}

// GetEvaluationRun retrieves all summaries and scores for a run.
func (h *Handler) GetEvaluationRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runId")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	summaries, err := h.repo.GetEvaluationSummaries(ctx, runID)
	if err != nil {
		slog.Error("failed to get evaluation summaries", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load evaluation run",
		})
		return
	}
	if len(summaries) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation run not found",
		})
		return
	}

	// Rebuild scores from the persisted party results
	statusesByParty := make(map[string][]domain.ComplianceStatus)
	for _, summary := range summaries {
		for party, result := range summary.PartyResults {
			statusesByParty[party] = append(statusesByParty[party], result.Status)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":     runID,
		"summaries": summaries,
		"scores":    scoring.OverallScore(statusesByParty),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all stored rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleList, err := h.repo.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	rule, err := h.repo.GetRule(r.Context(), ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID                     string   `json:"id,omitempty"`
	Name                   string   `json:"name"`
	Formula                string   `json:"formula"`
	Description            string   `json:"description,omitempty"`
	Threshold              *float64 `json:"threshold,omitempty"`
	Severity               string   `json:"severity,omitempty"`
	Category               string   `json:"category,omitempty"`
	Tags                   []string `json:"tags,omitempty"`
	Title                  string   `json:"title,omitempty"`
	AnalyticID             string   `json:"analyticId,omitempty"`
	ResponsiblePartyColumn string   `json:"responsiblePartyColumn,omitempty"`
	RelevantReport         string   `json:"relevantReport,omitempty"`
}

// CreateRule validates and stores a new rule definition.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Formula == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and formula are required",
		})
		return
	}

	rule := domain.NewRule(req.Name, req.Formula, domain.RuleParams{
		ID:                     req.ID,
		Title:                  req.Title,
		AnalyticID:             req.AnalyticID,
		Description:            req.Description,
		Threshold:              req.Threshold,
		Severity:               req.Severity,
		Category:               req.Category,
		Tags:                   req.Tags,
		ResponsiblePartyColumn: req.ResponsiblePartyColumn,
		RelevantReport:         req.RelevantReport,
	})

	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	// Notify listeners so distributed nodes can refresh
	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{"ruleId": rule.ID, "action": "created"})
		if err := h.bus.Publish(ctx, domain.TopicRuleChanged, payload); err != nil {
			slog.Warn("failed to publish rule change", "id", rule.ID, "error", err)
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule removes a rule definition.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if err := h.repo.DeleteRule(ctx, ruleID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{"ruleId": ruleID, "action": "deleted"})
		if err := h.bus.Publish(ctx, domain.TopicRuleChanged, payload); err != nil {
			slog.Warn("failed to publish rule change", "id", ruleID, "error", err)
		}
	}

	slog.Info("rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ValidateFormulaRequest is the request body for POST /rules/validate.
type ValidateFormulaRequest struct {
	Formula string   `json:"formula"`
	Columns []string `json:"columns,omitempty"`
}

// ValidateFormula checks formula syntax and column references without
// storing anything.
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req ValidateFormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Formula == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "formula is required",
		})
		return
	}

	// Without a column set only the syntax is checked
	valid, message := true, ""
	if len(req.Columns) > 0 {
		valid, message = formula.ValidateWithColumns(req.Formula, req.Columns)
	} else if !formula.IsValidFormula(req.Formula) {
		valid, message = false, "invalid formula syntax"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   valid,
		"message": message,
		"columns": formula.ColumnReferences(req.Formula),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
