// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command archgraph imports compiled Java classes into a resolved class
// graph and queries, persists or exports it.
//
// Usage:
//
//	archgraph import build/classes libs/app.jar
//	archgraph import --package com.acme --strict
//	archgraph serve --watch
//	archgraph snapshot list
//	archgraph export neo4j build/classes
//
// Configuration is read from archgraph.yaml (or --config), .env files and
// ARCHGRAPH_* environment variables, in increasing precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/archgraph/services/archgraph/config"
)

// Global flag values.
var (
	configPath   string
	envFiles     []string
	logLevel     string
	traceKind    string
	otlpEndpoint string
)

// errFailuresPresent is returned by --strict runs whose failure list is
// not empty. It maps to exit code 2.
var errFailuresPresent = errors.New("import completed with failures")

// app is the state shared by subcommands after the root pre-run.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var shutdownTracing func(context.Context) error

	root := &cobra.Command{
		Use:           "archgraph",
		Short:         "Build and query resolved class graphs from compiled Java classes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			a.logger = logger

			cfg, err := config.Load(configPath, envFiles...)
			if err != nil {
				return err
			}
			a.cfg = cfg

			shutdownTracing, err = setupTracing(cmd.Context(), traceKind, otlpEndpoint)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdownTracing == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return shutdownTracing(ctx)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "archgraph.yaml", "YAML configuration file")
	pf.StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default .env when present)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&traceKind, "trace", "none", "trace exporter: none, stdout or otlp")
	pf.StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint host:port (default from OTEL_EXPORTER_OTLP_ENDPOINT)")

	root.AddCommand(
		newImportCommand(a),
		newServeCommand(a),
		newSnapshotCommand(a),
		newExportCommand(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errFailuresPresent):
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
