// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// filesReadTotal counts class file entries read, by outcome.
	// Labels: outcome (ok, read_error, duplicate_content)
	filesReadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archgraph",
		Subsystem: "importer",
		Name:      "files_read_total",
		Help:      "Class file entries read by outcome",
	}, []string{"outcome"})

	// recordsExtractedTotal counts class files parsed into records.
	recordsExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archgraph",
		Subsystem: "importer",
		Name:      "records_extracted_total",
		Help:      "Class files parsed into class records",
	})

	// malformedTotal counts class files rejected by the extractor.
	malformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archgraph",
		Subsystem: "importer",
		Name:      "malformed_total",
		Help:      "Class files rejected as malformed",
	})

	// unreadableLocationsTotal counts locations skipped with a warning.
	unreadableLocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archgraph",
		Subsystem: "importer",
		Name:      "unreadable_locations_total",
		Help:      "Locations skipped because they could not be read",
	})

	// resolvedFromClassPathTotal counts classes added by missing-dependency
	// resolution.
	resolvedFromClassPathTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archgraph",
		Subsystem: "importer",
		Name:      "resolved_from_classpath_total",
		Help:      "Classes imported while resolving missing dependencies",
	})

	// runDurationSeconds measures whole import runs.
	// Labels: status (success, failure)
	runDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "archgraph",
		Subsystem: "importer",
		Name:      "run_duration_seconds",
		Help:      "Duration of import runs",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"status"})
)

func recordRun(stats Stats, durationSec float64, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	runDurationSeconds.WithLabelValues(status).Observe(durationSec)
	if err != nil {
		return
	}
	filesReadTotal.WithLabelValues("ok").Add(float64(stats.FilesRead - stats.ReadErrors))
	filesReadTotal.WithLabelValues("read_error").Add(float64(stats.ReadErrors))
	filesReadTotal.WithLabelValues("duplicate_content").Add(float64(stats.DuplicateContent))
	recordsExtractedTotal.Add(float64(stats.Extracted))
	malformedTotal.Add(float64(stats.Malformed))
	unreadableLocationsTotal.Add(float64(stats.UnreadableLocations))
	resolvedFromClassPathTotal.Add(float64(stats.ResolvedFromClassPath))
}
