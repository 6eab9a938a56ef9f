package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coachlab/extension-tracker/config"
	"github.com/coachlab/extension-tracker/internal/application/command"
	"github.com/coachlab/extension-tracker/internal/application/query"
	"github.com/coachlab/extension-tracker/internal/application/refresh"
	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
	"github.com/coachlab/extension-tracker/internal/domain/student"
	"github.com/coachlab/extension-tracker/internal/infrastructure/cache"
	"github.com/coachlab/extension-tracker/internal/infrastructure/scheduler"
	"github.com/coachlab/extension-tracker/internal/interface/http/handlers"
	"github.com/coachlab/extension-tracker/pkg/logger"
)

// MaxMonthOffset bounds the monthOffset query parameter in both directions.
const MaxMonthOffset = 24

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports the composite status with a timestamp.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":    handlers.StatusOK,
			"timestamp": time.Now().UTC(),
			"uptime":    s.Uptime().Round(time.Second).String(),
			"version":   s.config.Version,
		})
		return
	}

	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeEnvelope(w, r, code, Envelope{Success: status.Healthy, Data: status})
}

// handleReady reports readiness. It does not wait for the startup preload.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		status := s.deps.Health.Check(r.Context())
		if !status.Ready {
			writeEnvelope(w, r, http.StatusServiceUnavailable, Envelope{
				Success: false,
				Data:    map[string]string{"status": "not_ready"},
				Error:   status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive reports liveness.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT LIST HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type listFunc func(r *http.Request, monthOffset int) ([]student.EnrichedView, error)

func (s *Server) serveList(w http.ResponseWriter, r *http.Request, op string, list listFunc) {
	offset := parseMonthOffset(r)

	views, err := list(r, offset)
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeList(w, r, views)
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	s.serveList(w, r, "list_students", func(r *http.Request, offset int) ([]student.EnrichedView, error) {
		return s.deps.Students.ListAllEnriched(r.Context(), offset)
	})
}

func (s *Server) handleListHearing(w http.ResponseWriter, r *http.Request) {
	s.serveList(w, r, "list_hearing", func(r *http.Request, offset int) ([]student.EnrichedView, error) {
		return s.deps.Students.ListHearingMilestones(r.Context(), offset)
	})
}

func (s *Server) handleListExamination(w http.ResponseWriter, r *http.Request) {
	s.serveList(w, r, "list_examination", func(r *http.Request, offset int) ([]student.EnrichedView, error) {
		return s.deps.Students.ListExaminationMilestones(r.Context(), offset)
	})
}

func (s *Server) handleListSuspensions(w http.ResponseWriter, r *http.Request) {
	s.serveList(w, r, "list_suspensions", func(r *http.Request, offset int) ([]student.EnrichedView, error) {
		return s.deps.Students.ListSuspensionHistory(r.Context(), offset)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DECISION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetDecision returns the decision or data:null when none is stored.
func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")

	cycle, err := parseCycleParam(r.URL.Query().Get("cycle"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.deps.Decisions.Get(r.Context(), studentID, cycle)
	if err != nil {
		s.writeFailure(w, r, "get_decision", err)
		return
	}
	if d == nil {
		writeJSON(w, r, http.StatusOK, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// upsertRequest is the flat body of POST /api/students/{studentId}.
type upsertRequest struct {
	decision.Input
	Cycle *json.Number `json:"cycle,omitempty"`
}

// handleUpsertDecision creates or replaces the decision for the student and cycle.
// The query parameter wins over a cycle in the body.
func (s *Server) handleUpsertDecision(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")

	var req upsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	raw := r.URL.Query().Get("cycle")
	if raw == "" && req.Cycle != nil {
		raw = req.Cycle.String()
	}
	cycle, err := parseCycleParam(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.deps.Upsert.Handle(r.Context(), command.UpsertDecisionCommand{
		StudentID: studentID,
		Cycle:     cycle,
		Decision:  req.Input,
	})
	if err != nil {
		s.writeFailure(w, r, "upsert_decision", err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

type bulkRequest struct {
	StudentIDs []string     `json:"studentIds"`
	Cycle      *json.Number `json:"cycle,omitempty"`
}

// handleBulkDecisions returns the stored decisions keyed by student ID.
func (s *Server) handleBulkDecisions(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.StudentIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, shared.ErrEmptyStudentIDs.Message)
		return
	}

	raw := r.URL.Query().Get("cycle")
	if raw == "" && req.Cycle != nil {
		raw = req.Cycle.String()
	}
	cycle, err := parseCycleParam(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	found, err := s.deps.Decisions.BulkGet(r.Context(), req.StudentIDs, cycle)
	if err != nil {
		s.writeFailure(w, r, "bulk_decisions", err)
		return
	}
	n := len(found)
	writeEnvelope(w, r, http.StatusOK, Envelope{Success: true, Data: found, Count: &n})
}

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD HANDLER
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := query.DashboardQuery{MonthOffset: parseMonthOffset(r)}

	if raw := r.URL.Query().Get("cycle"); raw != "" {
		cycle, err := milestone.ParseCycle(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, shared.ErrInvalidCycle.Message)
			return
		}
		q.Cycle = cycle
	}
	if raw := r.URL.Query().Get("kpi"); raw != "" {
		target, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "kpi must be a number")
			return
		}
		q.ExtensionRateTarget = target
	}

	res, err := s.deps.Dashboard.Handle(r.Context(), q)
	if err != nil {
		s.writeFailure(w, r, "dashboard", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRefreshCache clears the cache and runs the refresh sequence.
// A failed student fetch answers 502 with the summary as data.
func (s *Server) handleRefreshCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features != nil && !s.deps.Features.IsEnabled(config.FeatureManualRefresh) {
		writeError(w, r, http.StatusForbidden, "manual refresh is disabled")
		return
	}

	summary := s.deps.Cache.ManualRefresh(r.Context())
	if !summary.Success {
		logger.FromContext(r.Context()).Warn("manual refresh failed", logger.String("error", summary.Error))
		writeEnvelope(w, r, http.StatusBadGateway, Envelope{
			Success: false,
			Data:    summary,
			Error:   summary.Error,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.ClearCache()
	logger.FromContext(r.Context()).Info("cache cleared")
	writeJSON(w, r, http.StatusOK, map[string]string{"message": "cache cleared"})
}

// CacheStatsResponse is the data of GET /api/cache/stats.
type CacheStatsResponse struct {
	Cache       cache.Stats         `json:"cache"`
	LastRefresh *refresh.Summary    `json:"lastRefresh"`
	Jobs        []scheduler.JobInfo `json:"jobs,omitempty"`
	Scheduler   *SchedulerStatus    `json:"scheduler,omitempty"`
	Features    []config.Feature    `json:"features,omitempty"`
}

// SchedulerStatus reports the background scheduler.
type SchedulerStatus struct {
	Running bool                      `json:"running"`
	Metrics scheduler.MetricsSnapshot `json:"metrics"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := CacheStatsResponse{Cache: s.deps.Cache.CacheStats()}
	if summary, ok := s.deps.Cache.LastSummary(); ok {
		resp.LastRefresh = &summary
	}
	if s.deps.Jobs != nil {
		resp.Jobs = s.deps.Jobs.ListJobs()
		resp.Scheduler = &SchedulerStatus{
			Running: s.deps.Jobs.IsRunning(),
			Metrics: s.deps.Jobs.Metrics(),
		}
	}
	if s.deps.Features != nil {
		resp.Features = s.deps.Features.GetAllFeatures()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE FLAGS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeList(w, r, []config.Feature{})
		return
	}
	writeList(w, r, s.deps.Features.GetAllFeatures())
}

type setFeatureRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetFeature flips one flag, e.g. PUT /api/features/manual_refresh {"enabled":false}.
func (s *Server) handleSetFeature(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeError(w, r, http.StatusNotFound, "feature flags are not configured")
		return
	}

	var req setFeatureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, "enabled must be true or false")
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.deps.Features.SetEnabled(name, *req.Enabled); err != nil {
		if errors.Is(err, config.ErrFeatureNotFound) {
			writeError(w, r, http.StatusNotFound, "unknown feature: "+name)
			return
		}
		s.writeFailure(w, r, "set_feature", err)
		return
	}

	logger.FromContext(r.Context()).Info("feature toggled",
		logger.String("feature", name),
		logger.Bool("enabled", *req.Enabled),
	)
	for _, f := range s.deps.Features.GetAllFeatures() {
		if f.Name == name {
			writeJSON(w, r, http.StatusOK, f)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, config.Feature{Name: name, Enabled: *req.Enabled})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest
	case shared.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrExternalService):
		return http.StatusBadGateway
	case shared.IsExternalService(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err and writes the mapped status. Validation messages are
// returned verbatim; other errors are summarized.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)

	fields := []logger.Field{
		logger.Operation(op),
		logger.Err(err),
		logger.Int("status", status),
	}
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
	} else {
		log.Warn("request rejected", fields...)
	}

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	var ve *command.ValidationError
	if errors.As(err, &ve) {
		message = ve.Error()
	}
	writeError(w, r, status, message)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PARSING
// ══════════════════════════════════════════════════════════════════════════════

// parseMonthOffset reads monthOffset. Non-integers become 0 and values are
// clamped to ±MaxMonthOffset.
func parseMonthOffset(r *http.Request) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("monthOffset")))
	if err != nil {
		return 0
	}
	if n > MaxMonthOffset {
		return MaxMonthOffset
	}
	if n < -MaxMonthOffset {
		return -MaxMonthOffset
	}
	return n
}

// parseCycleParam parses an optional cycle; empty means cycle 1.
func parseCycleParam(raw string) (milestone.Cycle, error) {
	if strings.TrimSpace(raw) == "" {
		return milestone.CycleFirst, nil
	}
	c, err := milestone.ParseCycle(raw)
	if err != nil {
		return milestone.CycleNone, errors.New(shared.ErrInvalidCycle.Message)
	}
	return c, nil
}

// decodeJSON decodes the request body. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
