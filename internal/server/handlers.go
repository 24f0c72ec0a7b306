package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/entity"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/search"
)

// PipelineState is one sync_state row.
type PipelineState struct {
	Pipeline         string     `json:"pipeline"`
	Status           string     `json:"status"`
	RecordsProcessed int64      `json:"records_processed"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
}

// BudgetResponse is the breaker snapshot. Amounts are decimal strings.
type BudgetResponse struct {
	State            string  `json:"state"`
	CurrentSpend     string  `json:"current_spend"`
	BudgetLimit      string  `json:"budget_limit"`
	Remaining        string  `json:"remaining"`
	PercentUsed      float64 `json:"percent_used"`
	WarningThreshold float64 `json:"warning_threshold"`
	HaltThreshold    float64 `json:"halt_threshold"`
}

// StatusResponse represents the response for /status
type StatusResponse struct {
	Pipelines       []PipelineState `json:"pipelines"`
	Budget          BudgetResponse  `json:"budget"`
	Recommendations []string        `json:"recommendations"`
}

// DayCost is one day of spend.
type DayCost struct {
	Day  string `json:"day"`
	Cost string `json:"cost"`
}

// CostResponse represents the response for /cost
type CostResponse struct {
	Month           string            `json:"month"`
	TotalCost       string            `json:"total_cost"`
	BudgetLimit     string            `json:"budget_limit"`
	PercentUsed     float64           `json:"percent_used"`
	RequestCount    int               `json:"request_count"`
	Services        map[string]string `json:"services"`
	Daily           []DayCost         `json:"daily"`
	Recommendations []string          `json:"recommendations"`
}

// IdentifierView is one crosswalk identifier of a match.
type IdentifierView struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// MatchView is one entity name candidate.
type MatchView struct {
	CanonicalID   uuid.UUID        `json:"canonical_id"`
	CanonicalName string           `json:"canonical_name"`
	EntityType    string           `json:"entity_type"`
	Similarity    float64          `json:"similarity"`
	Identifiers   []IdentifierView `json:"identifiers"`
}

// EntityView is a canonical entity with its identifiers.
type EntityView struct {
	CanonicalID   uuid.UUID         `json:"canonical_id"`
	CanonicalName string            `json:"canonical_name"`
	EntityType    string            `json:"entity_type"`
	Aliases       []string          `json:"aliases"`
	MergedFrom    []uuid.UUID       `json:"merged_from"`
	Identifiers   map[string]string `json:"identifiers"`
}

// parseQueryInt parses an integer query parameter with default and max values
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		return defaultValue
	}
	if maxValue > 0 && val > maxValue {
		return maxValue
	}
	return val
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns pipeline sync state and the budget
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	states, err := s.syncStates.ListSyncStates(r.Context())
	if err != nil {
		s.failure(w, r, err)
		return
	}
	status, err := s.budget.Status(r.Context())
	if err != nil {
		s.failure(w, r, err)
		return
	}

	pipelines := make([]PipelineState, 0, len(states))
	for _, st := range states {
		pipelines = append(pipelines, pipelineState(st))
	}
	s.jsonResponse(w, http.StatusOK, StatusResponse{
		Pipelines:       pipelines,
		Budget:          budgetResponse(status),
		Recommendations: cost.Recommendations(status, nil),
	})
}

// handleCost returns this month's spend by service and per-day totals
func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	days := parseQueryInt(r, "days", 7, 90)

	summary, err := s.costs.MonthlySummary(r.Context(), s.now())
	if err != nil {
		s.failure(w, r, err)
		return
	}
	daily, err := s.costs.DailyCosts(r.Context(), days)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	status, err := s.budget.Status(r.Context())
	if err != nil {
		s.failure(w, r, err)
		return
	}

	resp := CostResponse{
		Month:           summary.Month.Format("2006-01"),
		TotalCost:       summary.TotalCost.String(),
		BudgetLimit:     summary.BudgetLimit.String(),
		PercentUsed:     summary.PercentUsed,
		RequestCount:    summary.RequestCount,
		Services:        make(map[string]string, len(summary.Services)),
		Daily:           make([]DayCost, 0, len(daily)),
		Recommendations: cost.Recommendations(status, summary),
	}
	for name, spent := range summary.Services {
		resp.Services[name] = spent.String()
	}
	for _, d := range daily {
		resp.Daily = append(resp.Daily, DayCost{Day: d.Day.Format(time.DateOnly), Cost: d.Cost.String()})
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleSearch runs a vector, keyword or hybrid search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		s.failure(w, r, &ErrValidation{Field: "q", Message: "is required"})
		return
	}
	searchType, err := search.ParseType(q.Get("type"))
	if err != nil {
		s.failure(w, r, &ErrValidation{Field: "type", Message: err.Error()})
		return
	}

	resp, err := s.search.Search(r.Context(), search.Request{
		Query:  query,
		Limit:  parseQueryInt(r, "limit", search.DefaultLimit, 100),
		Type:   searchType,
		Schema: q.Get("schema"),
		Table:  q.Get("table"),
	})
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleEntityMatch suggests canonical entities for a name
func (s *Server) handleEntityMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		s.failure(w, r, &ErrValidation{Field: "name", Message: "is required"})
		return
	}
	entityType := entity.TypeCompany
	if t := q.Get("type"); t != "" {
		entityType = entity.Type(strings.ToLower(t))
		if _, ok := entity.IdentifierTypes[entityType]; !ok {
			s.failure(w, r, &ErrValidation{Field: "type", Message: "unknown entity type " + t})
			return
		}
	}

	matches, err := s.entities.FindMatches(r.Context(), name, entityType, parseQueryInt(r, "limit", entity.DefaultMatchLimit, 50))
	if err != nil {
		s.failure(w, r, err)
		return
	}

	views := make([]MatchView, 0, len(matches))
	for _, m := range matches {
		view := MatchView{
			CanonicalID:   m.CanonicalID,
			CanonicalName: m.CanonicalName,
			EntityType:    string(m.EntityType),
			Similarity:    m.Similarity,
			Identifiers:   make([]IdentifierView, 0, len(m.Identifiers)),
		}
		for _, id := range m.Identifiers {
			view.Identifiers = append(view.Identifiers, IdentifierView{Type: id.Type, Value: id.Value, Confidence: id.Confidence})
		}
		views = append(views, view)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"name":    name,
		"matches": views,
	})
}

// handleEntityByIdentifier looks up an entity by UEI, DUNS, CIK and so on
func (s *Server) handleEntityByIdentifier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	idType, value := strings.ToLower(q.Get("type")), strings.TrimSpace(q.Get("value"))
	if idType == "" || value == "" {
		s.failure(w, r, &ErrValidation{Field: "type,value", Message: "are required"})
		return
	}

	e, err := s.entities.FindByIdentifier(r.Context(), idType, value)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if e == nil {
		s.failure(w, r, &ErrNotFound{What: "entity"})
		return
	}
	s.jsonResponse(w, http.StatusOK, EntityView{
		CanonicalID:   e.CanonicalID,
		CanonicalName: e.CanonicalName,
		EntityType:    string(e.EntityType),
		Aliases:       e.Aliases,
		MergedFrom:    e.MergedFrom,
		Identifiers:   e.Identifiers,
	})
}

func pipelineState(st pipeline.SyncState) PipelineState {
	return PipelineState{
		Pipeline:         st.PipelineName,
		Status:           string(st.Status),
		RecordsProcessed: st.RecordsProcessed,
		LastSyncAt:       st.LastSyncAt,
		LastError:        st.LastError,
		LastErrorAt:      st.LastErrorAt,
	}
}

func budgetResponse(st *cost.Status) BudgetResponse {
	return BudgetResponse{
		State:            st.State.String(),
		CurrentSpend:     st.CurrentSpend.String(),
		BudgetLimit:      st.BudgetLimit.String(),
		Remaining:        st.Remaining.String(),
		PercentUsed:      st.PercentUsed,
		WarningThreshold: st.WarningThreshold,
		HaltThreshold:    st.HaltThreshold,
	}
}
