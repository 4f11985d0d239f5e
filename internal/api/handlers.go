package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arkforge/autopilot/internal/engine"
	"github.com/arkforge/autopilot/internal/history"
	"github.com/arkforge/autopilot/internal/rules"
)

// ruleView is the operator-facing snapshot of a rule's runtime state.
type ruleView struct {
	ID            string           `json:"id"`
	AccountID     string           `json:"account_id"`
	Name          string           `json:"name,omitempty"`
	State         string           `json:"state"`
	PriorityChain []string         `json:"priority_chain"`
	ActiveURL     string           `json:"active_url,omitempty"`
	ActiveTier    int              `json:"active_tier"`
	Enabled       bool             `json:"enabled"`
	Stabilization map[string]int64 `json:"stabilization"`
	LastCheckAge  string           `json:"last_check_age,omitempty"`
	LastFailover  string           `json:"last_failover,omitempty"`
}

func (s *Server) ruleToView(r *http.Request, rule *rules.Rule) ruleView {
	view := ruleView{
		ID:            rule.ID.String(),
		AccountID:     rule.AccountID,
		Name:          rule.Name,
		PriorityChain: rule.PriorityChain,
		ActiveURL:     rule.ActiveURL,
		ActiveTier:    rule.ActiveTier(),
		Enabled:       rule.Enabled,
		Stabilization: rule.Stabilization,
	}

	installed, err := s.accounts.InstalledEndpoints(r.Context(), rule.AccountID)
	if err != nil {
		view.State = rules.StateUnknown.String()
	} else {
		view.State = rule.State(installed).String()
	}

	if rule.LastCheck != nil {
		view.LastCheckAge = time.Since(*rule.LastCheck).Round(time.Second).String()
	}
	if rule.LastFailover != nil {
		// History pruning may outlive this timestamp; the age is still
		// renderable from the rule itself.
		view.LastFailover = rule.LastFailover.UTC().Format(time.RFC3339)
	}
	return view
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	lastRun := s.scheduler.LastWorkerRun()

	status := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}
	if lastRun.IsZero() {
		status["last_worker_run"] = nil
	} else {
		status["last_worker_run"] = lastRun.UTC().Format(time.RFC3339)
		status["last_worker_age"] = time.Since(lastRun).Round(time.Second).String()
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")

	var (
		list []*rules.Rule
		err  error
	)
	if account != "" {
		list, err = s.repo.ListByAccount(r.Context(), account)
	} else {
		list, err = s.repo.ListEnabled(r.Context())
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading rules failed")
		return
	}

	views := make([]ruleView, 0, len(list))
	for _, rule := range list {
		views = append(views, s.ruleToView(r, rule))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": views})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	rule, err := s.repo.Get(r.Context(), id)
	if errors.Is(err, rules.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading rule failed")
		return
	}

	s.writeJSON(w, http.StatusOK, s.ruleToView(r, rule))
}

func (s *Server) handleSimulateRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	decision, err := s.scheduler.SimulateRule(r.Context(), id)
	switch {
	case errors.Is(err, rules.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, engine.ErrRuleBroken):
		s.writeError(w, http.StatusConflict, "rule is broken and excluded from evaluation")
	case err != nil:
		s.writeError(w, http.StatusBadGateway, "simulation failed")
	default:
		s.writeJSON(w, http.StatusOK, decision)
	}
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")

	decisions, err := s.scheduler.Simulate(r.Context(), account)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "simulation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := history.Filter{
		Type: history.EventType(query.Get("type")),
	}
	if ruleID := query.Get("rule"); ruleID != "" {
		id, err := uuid.Parse(ruleID)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid rule id")
			return
		}
		filter.RuleID = id
	}
	if limit := query.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	entries, err := s.hist.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading history failed")
		return
	}
	if entries == nil {
		entries = []*history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
