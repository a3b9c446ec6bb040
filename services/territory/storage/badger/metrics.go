// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txnConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "territory_badger_txn_conflicts_total",
		Help: "Total optimistic transaction conflicts by operation",
	}, []string{"op"})

	gcRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "territory_badger_gc_runs_total",
		Help: "Value log GC attempts by result (rewrote, skipped, error)",
	}, []string{"result"})
)
