package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/swage/internal/events"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/tracking"
)

// startRunReplyWindow bounds how long POST /runs waits for the run to
// produce its group ID before answering without one.
const startRunReplyWindow = 2 * time.Second

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		Phase:         string(s.driver.Status().Phase),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		StepsLoaded:   len(s.registry.All()),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListSteps handles GET /api/v1/steps. Steps are returned in
// pipeline execution order.
func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	resp := StepListResponse{Steps: make([]StepSummary, 0, len(all))}

	for _, st := range all {
		summary := StepSummary{
			Name:              st.Name,
			Source:            string(st.Source.Kind),
			IncludedByDefault: st.IncludedByDefault,
			Description:       st.Description,
		}
		switch st.Source.Kind {
		case step.SourceCatalog:
			summary.Location = st.Source.Component
		case step.SourceLocal:
			summary.Location = st.Source.Dir
		}
		resp.Steps = append(resp.Steps, summary)
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListRuns handles GET /api/v1/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	groups, err := s.store.ListGroups(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list run groups", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := RunListResponse{Runs: make([]RunSummary, 0, len(groups))}
	for _, g := range groups {
		resp.Runs = append(resp.Runs, runSummary(g))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetRun handles GET /api/v1/runs/{groupID}. The literal ID
// "latest" resolves to the most recently started run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var (
		group *tracking.RunGroup
		err   error
	)
	if groupID == "latest" {
		group, err = s.store.LatestGroup(r.Context())
		if err == nil && group == nil {
			s.writeError(w, http.StatusNotFound, "no runs recorded")
			return
		}
	} else {
		group, err = s.store.GetGroup(r.Context(), groupID)
	}
	if err != nil {
		if errors.Is(err, tracking.ErrGroupNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("failed to retrieve run group", "group_id", groupID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run")
		return
	}

	stepRuns, err := s.store.StepsForGroup(r.Context(), group.ID)
	if err != nil {
		s.logger.Error("failed to list step runs", "group_id", group.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run")
		return
	}

	resp := RunDetailResponse{
		GroupID:     group.ID,
		Project:     group.Project,
		Experiment:  group.Experiment,
		Selection:   group.Selection,
		Status:      string(group.Status),
		StartedAt:   group.StartedAt,
		CompletedAt: group.CompletedAt,
		Steps:       make([]StepRunDetail, 0, len(stepRuns)),
	}
	if group.FailedStep != nil {
		resp.FailedStep = *group.FailedStep
	}
	if group.LastError != nil {
		resp.Error = *group.LastError
	}
	for _, sr := range stepRuns {
		detail := StepRunDetail{
			Step:        sr.Step,
			Position:    sr.Position,
			Status:      string(sr.Status),
			StartedAt:   sr.StartedAt,
			CompletedAt: sr.CompletedAt,
			ExitCode:    sr.ExitCode,
		}
		if sr.LastError != nil {
			detail.Error = *sr.LastError
		}
		resp.Steps = append(resp.Steps, detail)
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleStartRun handles POST /api/v1/runs. Execution is single-flight:
// a second trigger while a run is active gets 409. The run itself is
// detached from the request and bounded by the server lifecycle; the
// response carries the group ID once the run is underway.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	requested := strings.TrimSpace(req.Steps)

	select {
	case s.runSem <- struct{}{}:
	default:
		s.writeError(w, http.StatusConflict, "a pipeline run is already in progress")
		return
	}

	// Subscribe before starting so the pipeline.started event cannot be
	// missed.
	ch, cancel := s.hub.Subscribe()
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() { <-s.runSem }()
		errCh <- s.driver.Run(s.runCtx, requested)
	}()

	s.logger.Info("run triggered via API", "selection", requested)

	timeout := time.NewTimer(startRunReplyWindow)
	defer timeout.Stop()

	for {
		select {
		case ev := <-ch:
			if ev.Type != "pipeline.started" {
				continue
			}
			respondJSON(w, http.StatusAccepted, StartRunResponse{
				GroupID:   startedGroupID(ev.Data),
				Status:    "started",
				Selection: requested,
			})
			return

		case err := <-errCh:
			if err != nil {
				var unknown *step.UnknownStepError
				if errors.As(err, &unknown) {
					s.writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				s.logger.Error("API-triggered run failed", "error", err)
				s.writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			// The run finished inside the reply window; its started
			// event is already buffered.
			respondJSON(w, http.StatusAccepted, StartRunResponse{
				GroupID:   drainStartedGroupID(ch),
				Status:    "completed",
				Selection: requested,
			})
			return

		case <-timeout.C:
			respondJSON(w, http.StatusAccepted, StartRunResponse{
				Status:    "started",
				Selection: requested,
			})
			return
		}
	}
}

func runSummary(g tracking.RunGroup) RunSummary {
	summary := RunSummary{
		GroupID:     g.ID,
		Project:     g.Project,
		Experiment:  g.Experiment,
		Selection:   g.Selection,
		Status:      string(g.Status),
		StartedAt:   g.StartedAt,
		CompletedAt: g.CompletedAt,
	}
	if g.FailedStep != nil {
		summary.FailedStep = *g.FailedStep
	}
	return summary
}

func startedGroupID(data []byte) string {
	var payload struct {
		GroupID string `json:"group_id"`
	}
	_ = json.Unmarshal(data, &payload)
	return payload.GroupID
}

func drainStartedGroupID(ch <-chan events.Event) string {
	for {
		select {
		case ev := <-ch:
			if ev.Type == "pipeline.started" {
				return startedGroupID(ev.Data)
			}
		default:
			return ""
		}
	}
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
