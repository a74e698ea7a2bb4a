package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gantryd/gantry/internal/application/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SubmitResponse is returned when a run completed successfully.
type SubmitResponse struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Results   map[string]any `json:"results"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"active_runs": s.engine.Registry().Len(),
	})
}

// handleSubmitRun translates the wire graph and executes it synchronously:
// the response carries either the full outcome or the abort error.
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	roots, err := buildGraph(s.handlers, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_GRAPH",
				Message: err.Error(),
			},
		})
		return
	}

	deadline := s.defaultDeadline
	if req.DeadlineMs > 0 {
		deadline = time.Duration(req.DeadlineMs) * time.Millisecond
	}
	concurrency := s.defaultConcurrency
	if req.MaxConcurrency != nil {
		concurrency = *req.MaxConcurrency
	}

	start := time.Now()
	runID, err := s.engine.Start(c.Request.Context(), roots, deadline, scheduler.Options{
		MaxConcurrency:  concurrency,
		PreserveResults: req.PreserveResults,
	})
	if err != nil {
		c.JSON(abortStatusCode(err), ErrorResponse{
			Error: ErrorDetail{
				Code:    abortErrorCode(err),
				Message: err.Error(),
			},
		})
		return
	}

	results := make(map[string]any, len(req.Nodes))
	for _, wn := range req.Nodes {
		value, ok, err := s.sink.Get(c.Request.Context(), runID, wn.ID)
		if err != nil {
			s.logger.Error("failed to read result",
				zap.String("run_id", runID),
				zap.String("node_id", wn.ID),
				zap.Error(err))
			continue
		}
		if ok {
			results[wn.ID] = value
		}
	}

	c.JSON(http.StatusOK, SubmitResponse{
		RunID:     runID,
		Status:    "completed",
		ElapsedMs: time.Since(start).Milliseconds(),
		Results:   results,
	})
}

// handleGetStatus reports per-node statuses of an active run.
func (s *Server) handleGetStatus(c *gin.Context) {
	runID := c.Param("id")

	snapshot, ok := s.engine.Snapshot(runID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	nodes := make(map[string]string, len(snapshot))
	for id, status := range snapshot {
		nodes[id] = status.String()
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"nodes":  nodes,
	})
}

// handleGetResult reads one node's result entry from the sink.
func (s *Server) handleGetResult(c *gin.Context) {
	runID := c.Param("id")
	nodeID := c.Param("node")

	value, ok, err := s.sink.Get(c.Request.Context(), runID, nodeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "SINK_ERROR",
				Message: "Failed to read result",
				Details: err.Error(),
			},
		})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "No result entry for node",
			},
		})
		return
	}

	if resultErr, isErr := value.(error); isErr {
		c.JSON(http.StatusOK, gin.H{
			"run_id":  runID,
			"node_id": nodeID,
			"error":   resultErr.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":  runID,
		"node_id": nodeID,
		"value":   value,
	})
}

// handleStopRun stops a run. Stop is idempotent, so unknown ids succeed.
func (s *Server) handleStopRun(c *gin.Context) {
	runID := c.Param("id")

	s.engine.Stop(runID)

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": "stopped",
	})
}

// abortStatusCode maps an abort error to an HTTP status.
func abortStatusCode(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrRunDeadline):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

// abortErrorCode maps an abort error to a wire error code.
func abortErrorCode(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrInvalidInput):
		return "INVALID_REQUEST"
	case errors.Is(err, scheduler.ErrRunDeadline):
		return "DEADLINE_EXCEEDED"
	case errors.Is(err, scheduler.ErrAttemptTimeout):
		return "EXECUTION_FAILED"
	case errors.Is(err, scheduler.ErrStopped):
		return "STOPPED"
	default:
		return "EXECUTION_FAILED"
	}
}
