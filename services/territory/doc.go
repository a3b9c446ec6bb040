// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package territory is the territory capture engine.
//
// Users submit GPS paths; the engine maps them onto a hierarchical hex grid,
// decides which cells each path claims, and records ownership per region.
// Service ties the engine's components together and is the surface used by
// the HTTP API and the CLI.
//
// Packages:
//
//	grid     - hex cell math over a Mercator projection
//	classify - path classification and claimed-cell computation
//	region   - per-region ownership records and their stores
//	capture  - the write pipeline applying a classified path
//	stats    - per-user aggregates and leaderboard
//	history  - immutable capture records in SQLite
//	notify   - realtime websocket hub and time-series sink
//
// Thread Safety:
//
//	Service is safe for concurrent use.
package territory
