// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves improvement runs and their history over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/qmcts/services/quantum/demo"
	"github.com/AleutianAI/qmcts/services/quantum/improvement"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// Runner executes one improvement run. *demo.Runner implements it.
type Runner interface {
	Run(ctx context.Context, config improvement.Config) (*demo.Report, error)
}

// Handlers contains the HTTP handlers.
//
// Thread Safety: Safe for concurrent use. At most one run started
// through HandleCreateRun is in flight at a time.
type Handlers struct {
	runner  Runner
	store   improvement.ResultStore
	config  func() improvement.Config
	logger  *slog.Logger
	running atomic.Bool
}

// NewHandlers creates handlers. config is called per request so that a
// hot-reloaded config takes effect without a restart. store may be nil,
// which disables the history endpoints.
func NewHandlers(runner Runner, store improvement.ResultStore, config func() improvement.Config) *Handlers {
	return &Handlers{
		runner: runner,
		store:  store,
		config: config,
		logger: slog.Default(),
	}
}

// WithLogger sets the handler logger.
func (h *Handlers) WithLogger(logger *slog.Logger) *Handlers {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// HandleHealth handles GET /v1/qmcts/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Time:    time.Now().UTC(),
		Running: h.running.Load(),
		StoreOK: h.store != nil,
	})
}

// HandleConfig handles GET /v1/qmcts/config.
func (h *Handlers) HandleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.config())
}

// HandleListRuns handles GET /v1/qmcts/runs.
//
// Query Parameters:
//
//	limit - Maximum rows, newest first. Default 20, maximum 500.
//
// Response:
//
//	200 OK: RunListResponse
//	400 Bad Request: Malformed limit
//	503 Service Unavailable: No result store
func (h *Handlers) HandleListRuns(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = min(n, maxListLimit)
	}

	results, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "list runs", err)
		return
	}
	resp := RunListResponse{Runs: make([]RunSummary, 0, len(results))}
	for _, r := range results {
		resp.Runs = append(resp.Runs, Summarize(r))
	}
	resp.Count = len(resp.Runs)
	c.JSON(http.StatusOK, resp)
}

// HandleGetRun handles GET /v1/qmcts/runs/:id.
//
// Response:
//
//	200 OK: improvement.ImprovementResult
//	404 Not Found: Unknown run
//	503 Service Unavailable: No result store
func (h *Handlers) HandleGetRun(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	result, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, improvement.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "RUN_NOT_FOUND"})
		return
	}
	if err != nil {
		h.internalError(c, "get run", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleCreateRun handles POST /v1/qmcts/runs.
//
// Description:
//
//	Runs the tuning problem synchronously with the current config plus
//	the overrides in the request body, and returns the full report.
//	The run is bound to the request context, so a client disconnect
//	cancels it.
//
// Request Body:
//
//	RunRequest (optional)
//
// Response:
//
//	200 OK: demo.Report
//	400 Bad Request: Malformed body or invalid overrides
//	409 Conflict: A run is already in progress
//	500 Internal Server Error: Engine failure
func (h *Handlers) HandleCreateRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCreateRun")

	var req RunRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid request body",
				Code:    "INVALID_REQUEST",
				Details: err.Error(),
			})
			return
		}
	}

	cfg, err := applyOverrides(h.config(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid overrides",
			Code:    "INVALID_CONFIG",
			Details: err.Error(),
		})
		return
	}

	if !h.running.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "a run is already in progress", Code: "RUN_IN_PROGRESS"})
		return
	}
	defer h.running.Store(false)

	logger.Info("run requested",
		slog.Int("depths", cfg.Engine.RecursiveIterations),
		slog.Int("iterations_per_depth", cfg.Engine.IterationsPerDepth),
	)
	report, err := h.runner.Run(c.Request.Context(), cfg)
	if err != nil && report == nil {
		h.internalError(c, "run", err)
		return
	}
	if err != nil {
		logger.Warn("run ended early", slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, report)
}

// applyOverrides copies req onto cfg and validates the result.
func applyOverrides(cfg improvement.Config, req RunRequest) (improvement.Config, error) {
	if req.Depths != nil {
		cfg.Engine.RecursiveIterations = *req.Depths
	}
	if req.IterationsPerDepth != nil {
		cfg.Engine.IterationsPerDepth = *req.IterationsPerDepth
	}
	if req.Strategy != "" {
		cfg.Search.Strategy = req.Strategy
	}
	if req.Agents != nil {
		cfg.Committee.AgentCount = *req.Agents
	}
	if req.Deadline != "" {
		d, err := time.ParseDuration(req.Deadline)
		if err != nil {
			return cfg, err
		}
		cfg.Engine.Deadline = d
	}
	return cfg, cfg.Validate()
}

func (h *Handlers) requireStore(c *gin.Context) bool {
	if h.store != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "result store is disabled",
		Code:  "STORE_DISABLED",
	})
	return false
}

func (h *Handlers) internalError(c *gin.Context, op string, err error) {
	h.logger.Error("request failed", slog.String("op", op), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   op + " failed",
		Code:    "INTERNAL",
		Details: err.Error(),
	})
}

// getOrCreateRequestID echoes X-Request-ID or assigns a new one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
