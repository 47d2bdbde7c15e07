package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"ricorrenti/internal/core"
	applog "ricorrenti/internal/log"
	"ricorrenti/internal/services"
)

type (
	ruleResponse struct {
		ID               string    `json:"id"`
		Owner            string    `json:"owner"`
		Description      string    `json:"description"`
		Amount           string    `json:"amount"`
		CategoryRef      string    `json:"category_ref,omitempty"`
		PaymentMethodRef string    `json:"payment_method_ref,omitempty"`
		Frequency        string    `json:"frequency"`
		AnchorWeekday    *int      `json:"anchor_weekday,omitempty"`
		AnchorDay        *int      `json:"anchor_day,omitempty"`
		StartDate        core.Date `json:"start_date"`
		EndDate          core.Date `json:"end_date"`
		Active           bool      `json:"active"`
	}

	createRuleResponse struct {
		Rule     ruleResponse            `json:"rule"`
		Backfill services.BackfillResult `json:"backfill"`
		Warning  string                  `json:"warning,omitempty"`
	}

	instanceResponse struct {
		ID            string             `json:"id"`
		ScheduledDate core.Date          `json:"scheduled_date"`
		State         core.InstanceState `json:"state"`
		LedgerRef     string             `json:"ledger_ref,omitempty"`
	}

	instancesResponse struct {
		RuleID    string             `json:"rule_id"`
		Instances []instanceResponse `json:"instances"`
	}
)

func toRuleResponse(r core.RecurrenceRule) ruleResponse {
	freq, weekday, day := core.ScheduleFields(r.Schedule)
	return ruleResponse{
		ID:               r.ID,
		Owner:            r.Owner,
		Description:      r.Description,
		Amount:           r.Amount.String(),
		CategoryRef:      r.CategoryRef,
		PaymentMethodRef: r.PaymentMethodRef,
		Frequency:        freq,
		AnchorWeekday:    weekday,
		AnchorDay:        day,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		Active:           r.Active,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
			ErrorResponse(http.StatusServiceUnavailable, "store unavailable").Write(w)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleRunJob runs one batch job for the request's now and returns its
// summary. A best-effort run with errored occurrences still answers 200.
func (s *Server) handleRunJob(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now, err := parseNow(r, s.clock(), s.opts.Location)
		if err != nil {
			BadRequestError(err.Error()).Write(w)
			return
		}

		summary, err := s.opts.Jobs.RunJob(r.Context(), name, now)
		if err != nil {
			s.structured.LogError(r.Context(), "Recurring job aborted", err,
				applog.ComponentScheduler, applog.OpRunJob,
				applog.NewFields().WithJobSummary(summary))
			ErrorFor(err).Write(w)
			return
		}

		s.structured.LogJobCompleted(r.Context(), summary)
		NewJSONResponse().Body(summary).Write(w)
	}
}

// handleCreateRule persists a rule and backfills its current period. When
// the rule is saved but the backfill fails, the answer is still 201 with a
// warning: the batch jobs finish what the backfill left.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rule, err := req.ToRule()
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	now, err := parseNow(r, s.clock(), s.opts.Location)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	saved, res, err := s.opts.Rules.CreateRule(r.Context(), rule, now)
	body := createRuleResponse{Rule: toRuleResponse(saved), Backfill: res}
	switch {
	case errors.Is(err, services.ErrBackfillIncomplete):
		s.structured.LogError(r.Context(), "Rule saved but backfill incomplete", err,
			applog.ComponentRules, applog.OpCreate, nil)
		body.Warning = err.Error()
	case err != nil:
		ErrorFor(err).Write(w)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/rules/"+saved.ID+"/instances").
		Body(body).
		Write(w)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := s.opts.Rules.DeactivateRule(r.Context(), id); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEndDate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var req EndDateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if req.EndDate.IsZero() {
		UnprocessableEntityError("end_date is required").Write(w)
		return
	}
	if err := s.opts.Rules.SetEndDate(r.Context(), id, req.EndDate); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if _, err := s.opts.Instances.GetRule(r.Context(), id); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	instances, err := s.opts.Instances.ListInstances(r.Context(), id)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	body := instancesResponse{RuleID: id, Instances: make([]instanceResponse, 0, len(instances))}
	for _, inst := range instances {
		body.Instances = append(body.Instances, instanceResponse{
			ID:            inst.ID,
			ScheduledDate: inst.ScheduledDate,
			State:         inst.State,
			LedgerRef:     inst.LedgerRef,
		})
	}
	NewJSONResponse().Body(body).Write(w)
}
