// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package territory

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all territory routes with the router.
//
// Description:
//
//	Registers all /v1/territory/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Endpoints:
//
//	POST /v1/territory/paths - Submit a GPS path
//	POST /v1/territory/captures - Capture a single cell
//	GET  /v1/territory/viewport - Territory in a bounding box
//	GET  /v1/territory/users/:id/stats - User stats
//	GET  /v1/territory/users/:id/regions - User standing per region
//	GET  /v1/territory/users/:id/history - User capture history
//	GET  /v1/territory/history - Capture history by time
//	GET  /v1/territory/history/:id - One capture record
//	GET  /v1/territory/leaderboard - Users ranked by cells owned
//	GET  /v1/territory/ws - Realtime websocket
//	GET  /v1/territory/health - Health check
//	GET  /v1/territory/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	t := rg.Group("/territory")
	{
		t.POST("/paths", handlers.HandleSubmitPath)
		t.POST("/captures", handlers.HandleSubmitCapture)

		t.GET("/viewport", handlers.HandleViewport)

		t.GET("/users/:id/stats", handlers.HandleUserStats)
		t.GET("/users/:id/regions", handlers.HandleUserRegions)
		t.GET("/users/:id/history", handlers.HandleUserHistory)

		t.GET("/history", handlers.HandleHistory)
		t.GET("/history/:id", handlers.HandleHistoryRecord)

		t.GET("/leaderboard", handlers.HandleLeaderboard)

		t.GET("/ws", handlers.HandleWebsocket)

		t.GET("/health", handlers.HandleHealth)
		t.GET("/ready", handlers.HandleReady)
	}
}
