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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/archgraph/services/archgraph"
	"github.com/AleutianAI/archgraph/services/archgraph/location"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		sel     importFlags
		port    int
		watch   bool
		restore string
	)
	cmd := &cobra.Command{
		Use:   "serve [location...]",
		Short: "Serve the class graph over HTTP",
		Long: `Serve starts the HTTP API under /v1/archgraph and Prometheus metrics at
/metrics. Locations given as arguments, --package or --classpath are
imported at startup; POST /v1/archgraph/import replaces the graph later.

With --watch, directories behind the startup locations are watched and
changes to class files or archives trigger a re-import.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if logLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			if cmd.Flags().Changed("watch") {
				a.cfg.Server.Watch = watch
			}

			shutdownMetrics, err := setupMetrics()
			if err != nil {
				return err
			}
			defer shutdownMetrics(context.Background())

			imp, resolver, err := buildImporter(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}

			svcOpts := []archgraph.ServiceOption{archgraph.WithLogger(a.logger)}
			if a.cfg.Snapshot.Dir != "" {
				mgr, closeDB, err := openSnapshots(a.cfg.Snapshot.Dir, a.logger)
				if err != nil {
					return err
				}
				defer closeDB()
				svcOpts = append(svcOpts, archgraph.WithSnapshots(mgr))
			}
			svc, err := archgraph.NewService(imp, svcOpts...)
			if err != nil {
				return err
			}

			if restore != "" {
				mgr := svc.Snapshots()
				if mgr == nil {
					return fmt.Errorf("--restore needs snapshot.dir")
				}
				g, meta, err := loadSnapshotArg(cmd, mgr, restore)
				if err != nil {
					return err
				}
				svc.SetCurrent(g)
				a.logger.Info("graph restored from snapshot", slog.String("snapshot_id", meta.SnapshotID))
			}

			req, hasStartup := startupRequest(sel, args)
			if hasStartup {
				if _, err := svc.Import(ctx, req); err != nil {
					return fmt.Errorf("startup import: %w", err)
				}
			}

			if a.cfg.Server.Watch {
				if !hasStartup {
					return fmt.Errorf("--watch needs startup locations")
				}
				dirs := archgraph.WatchDirs(startupLocations(ctx, resolver, req))
				debounce := time.Duration(a.cfg.Server.WatchDebounceMillis) * time.Millisecond
				w, err := archgraph.NewWatcher(dirs, debounce, func(ctx context.Context) error {
					resolver.InvalidateListings()
					return svc.Reimport(ctx)
				}, a.logger)
				if err != nil {
					return err
				}
				defer w.Close()
				go w.Run(ctx)
				a.logger.Info("watching for changes", slog.Int("dirs", len(w.WatchList())))
			}

			return serveHTTP(ctx, a, archgraph.NewRouter(archgraph.NewHandlers(svc), serviceName))
		},
	}
	sel.register(cmd)
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default server.port)")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-import when watched directories change")
	cmd.Flags().StringVar(&restore, "restore", "", "start from a snapshot: ID or latest:<scope>")
	return cmd
}

// startupRequest converts serve's selectors into an import request.
func startupRequest(sel importFlags, uris []string) (archgraph.ImportRequest, bool) {
	req := archgraph.ImportRequest{URIs: uris, Packages: sel.packages, ClassPath: sel.classPath}
	if len(uris) == 0 && len(sel.packages) == 0 && !sel.classPath {
		return req, false
	}
	return req, true
}

// startupLocations resolves the locations an import request reads.
func startupLocations(ctx context.Context, r *location.Resolver, req archgraph.ImportRequest) location.Set {
	switch {
	case len(req.URIs) > 0:
		return r.Of(ctx, req.URIs...).Locations
	case len(req.Packages) > 0:
		var set location.Set
		for _, p := range req.Packages {
			set = set.Union(r.OfPackage(ctx, p).Locations)
		}
		return set
	default:
		return r.InClassPath(ctx).Locations
	}
}

func serveHTTP(ctx context.Context, a *app, router *gin.Engine) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting archgraph server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down archgraph server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
