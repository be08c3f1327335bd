// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archgraph

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all archgraph routes with the router.
//
// Description:
//
//	Registers all /v1/archgraph/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Endpoints:
//
//	GET  /v1/archgraph/health - Health check
//	POST /v1/archgraph/import - Import locations and replace the graph
//	GET  /v1/archgraph/classes - List classes
//	GET  /v1/archgraph/classes/:name - Get one class
//	GET  /v1/archgraph/accesses - List access edges
//	GET  /v1/archgraph/failures - List the failures of the current graph
//	GET  /v1/archgraph/snapshots - List saved snapshots
//
// Example:
//
//	handlers := archgraph.NewHandlers(svc)
//	v1 := router.Group("/v1")
//	archgraph.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	ag := rg.Group("/archgraph")
	{
		ag.GET("/health", handlers.HandleHealth)

		ag.POST("/import", handlers.HandleImport)

		ag.GET("/classes", handlers.HandleListClasses)
		ag.GET("/classes/:name", handlers.HandleGetClass)
		ag.GET("/accesses", handlers.HandleListAccesses)
		ag.GET("/failures", handlers.HandleListFailures)

		ag.GET("/snapshots", handlers.HandleListSnapshots)
	}
}

// NewRouter builds the server's router: recovery, OTel context extraction,
// the /v1 routes and the Prometheus scrape endpoint at /metrics.
func NewRouter(handlers *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
