// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.archgraph.graph")
	meter  = otel.Meter("aleutian.archgraph.graph")
)

var (
	instrumentsOnce sync.Once

	assembleDuration metric.Float64Histogram
	classesAssembled metric.Int64Counter
	stubsCreated     metric.Int64Counter
	edgesCreated     metric.Int64Counter
	assembleFailures metric.Int64Counter
)

func initInstruments() {
	instrumentsOnce.Do(func() {
		var err error
		assembleDuration, err = meter.Float64Histogram("archgraph_assemble_duration_seconds",
			metric.WithDescription("Time to assemble one import run into a graph"),
			metric.WithUnit("s"))
		if err != nil {
			otel.Handle(err)
		}
		classesAssembled, err = meter.Int64Counter("archgraph_classes_assembled_total",
			metric.WithDescription("Complete class nodes created"))
		if err != nil {
			otel.Handle(err)
		}
		stubsCreated, err = meter.Int64Counter("archgraph_stubs_created_total",
			metric.WithDescription("Stub nodes created for referenced but not imported classes"))
		if err != nil {
			otel.Handle(err)
		}
		edgesCreated, err = meter.Int64Counter("archgraph_access_edges_total",
			metric.WithDescription("Access edges created"))
		if err != nil {
			otel.Handle(err)
		}
		assembleFailures, err = meter.Int64Counter("archgraph_assemble_failures_total",
			metric.WithDescription("Classes excluded from a graph because they could not be linked"))
		if err != nil {
			otel.Handle(err)
		}
	})
}

func startAssembleSpan(ctx context.Context, records int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Assembler.Assemble",
		trace.WithAttributes(attribute.Int("archgraph.records", records)),
	)
}

func startPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Assembler."+phase)
}

func setAssembleSpanResult(span trace.Span, stats Stats, linkFailures int, err error) {
	span.SetAttributes(
		attribute.Int("archgraph.classes", stats.Classes),
		attribute.Int("archgraph.stubs", stats.Stubs),
		attribute.Int("archgraph.accesses", stats.Accesses),
		attribute.Int("archgraph.failures", stats.Failures),
		attribute.Int("archgraph.link_failures", linkFailures),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func recordAssembleMetrics(ctx context.Context, duration time.Duration, stats Stats, linkFailures int, success bool) {
	initInstruments()
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	if assembleDuration != nil {
		assembleDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if !success {
		return
	}
	if classesAssembled != nil {
		classesAssembled.Add(ctx, int64(stats.Classes))
	}
	if stubsCreated != nil {
		stubsCreated.Add(ctx, int64(stats.Stubs))
	}
	if edgesCreated != nil {
		edgesCreated.Add(ctx, int64(stats.Accesses))
	}
	if assembleFailures != nil {
		assembleFailures.Add(ctx, int64(linkFailures))
	}
}
