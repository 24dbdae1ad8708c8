// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /v1/qmcts/* endpoints.
//
// Endpoints:
//
//	GET  /v1/qmcts/health    - Health check
//	GET  /v1/qmcts/config    - Current effective config
//	GET  /v1/qmcts/runs      - Stored runs, newest first
//	GET  /v1/qmcts/runs/:id  - One stored run
//	POST /v1/qmcts/runs      - Start a run and wait for its report
//
// Example:
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	qmcts := rg.Group("/qmcts")
	{
		qmcts.GET("/health", handlers.HandleHealth)
		qmcts.GET("/config", handlers.HandleConfig)

		qmcts.GET("/runs", handlers.HandleListRuns)
		qmcts.GET("/runs/:id", handlers.HandleGetRun)
		qmcts.POST("/runs", handlers.HandleCreateRun)
	}
}

// NewRouter builds the gin engine with recovery and tracing middleware.
// metrics, when non-nil, is mounted at /metrics.
func NewRouter(service string, handlers *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}
