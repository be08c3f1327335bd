// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"

	"github.com/AleutianAI/archgraph/services/archgraph/config"
	"github.com/AleutianAI/archgraph/services/archgraph/graph"
	"github.com/AleutianAI/archgraph/services/archgraph/importer"
	"github.com/AleutianAI/archgraph/services/archgraph/location"
)

const serviceName = "archgraph"

// newLogger returns a text logger on stderr at the named level.
func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// setupTracing installs the global tracer provider for the exporter kind:
// "none", "stdout" or "otlp". The returned function flushes and stops it.
func setupTracing(ctx context.Context, kind, endpoint string) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var exporter sdktrace.SpanExporter
	switch kind {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		exporter = exp
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(serviceName)),
		}
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (want none, stdout or otlp)", kind)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// setupMetrics bridges OTel instruments into the default Prometheus
// registry, next to the promauto collectors.
func setupMetrics() (func(context.Context) error, error) {
	exp, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exp),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// buildResolver wires the configured class path and object stores.
func buildResolver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*location.Resolver, error) {
	opts := []location.ResolverOption{
		location.WithClassPath(cfg.ClassPathStrategy()),
		location.WithLogger(logger),
		location.WithObjectStoreRPS(cfg.ObjectStore.RequestsPerSecond),
	}

	if cfg.ObjectStore.Endpoint != "" {
		var client *minio.Client
		err := cfg.ObjectStore.SecretKey.Use(func(secret string) error {
			c, err := minio.New(cfg.ObjectStore.Endpoint, &minio.Options{
				Creds:  credentials.NewStaticV4(cfg.ObjectStore.AccessKey, strings.Clone(secret), ""),
				Secure: cfg.ObjectStore.UseSSL,
				Region: cfg.ObjectStore.Region,
			})
			client = c
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("creating s3 client: %w", err)
		}
		opts = append(opts, location.WithS3(client))
	}

	if cfg.GCS.Enabled {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating gcs client: %w", err)
		}
		opts = append(opts, location.WithGCS(client))
	}

	return location.NewResolver(opts...)
}

// buildImporter creates the resolver and importer from configuration.
func buildImporter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*importer.Importer, *location.Resolver, error) {
	resolver, err := buildResolver(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	filters, err := cfg.ImportFilters()
	if err != nil {
		return nil, nil, err
	}
	opts := []importer.Option{
		importer.WithLogger(logger),
		importer.WithWorkers(cfg.Import.Workers),
		importer.WithImportOptions(filters...),
	}
	if cfg.Import.ResolveMissingFromClassPath {
		opts = append(opts, importer.WithResolveMissing(cfg.Import.MaxResolutionIterations))
	}
	imp, err := importer.New(resolver, opts...)
	if err != nil {
		return nil, nil, err
	}
	return imp, resolver, nil
}

// openSnapshots opens the badger store at dir. The returned close function
// must be called once the manager is no longer used.
func openSnapshots(dir string, logger *slog.Logger) (*graph.SnapshotManager, func() error, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil, fmt.Errorf("snapshot directory not configured (snapshot.dir or %sSNAPSHOT_DIR)", config.EnvPrefix)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot store %s: %w", dir, err)
	}
	mgr, err := graph.NewSnapshotManager(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return mgr, db.Close, nil
}

// shutdownTimeout bounds exporter flushes on exit.
const shutdownTimeout = 5 * time.Second
