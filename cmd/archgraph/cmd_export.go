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
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/archgraph/services/archgraph/export"
	"github.com/AleutianAI/archgraph/services/archgraph/graph"
)

func newExportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a class graph to an external store",
	}

	var (
		sel      importFlags
		snapshot string
	)
	neo := &cobra.Command{
		Use:   "neo4j [location...]",
		Short: "Import locations (or load a snapshot) and write the graph to Neo4j",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.cfg.Neo4j.URI == "" {
				return fmt.Errorf("neo4j.uri is not configured")
			}

			var g *graph.Graph
			if snapshot != "" {
				mgr, closeDB, err := openSnapshots(a.cfg.Snapshot.Dir, a.logger)
				if err != nil {
					return err
				}
				defer closeDB()
				loaded, _, err := loadSnapshotArg(cmd, mgr, snapshot)
				if err != nil {
					return err
				}
				g = loaded
			} else {
				imp, _, err := buildImporter(ctx, a.cfg, a.logger)
				if err != nil {
					return err
				}
				res, err := sel.run(ctx, imp, args)
				if err != nil {
					return err
				}
				g = res.Graph
			}

			var exporter *export.Neo4jExporter
			err := a.cfg.Neo4j.Password.Use(func(password string) error {
				var err error
				exporter, err = export.NewNeo4jExporter(ctx, a.cfg.Neo4j.URI, a.cfg.Neo4j.User, strings.Clone(password),
					export.WithLogger(a.logger),
					export.WithBatchSize(a.cfg.Neo4j.BatchSize),
					export.WithDatabase(a.cfg.Neo4j.Database),
				)
				return err
			})
			if err != nil {
				return err
			}
			defer exporter.Close(ctx)

			stats, err := exporter.Export(ctx, g)
			if err != nil {
				return err
			}
			a.logger.Info("neo4j export finished",
				slog.String("run_id", g.RunID),
				slog.Int("classes", stats.Classes),
				slog.Int("accesses", stats.Accesses),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d classes, %d members, %d relations, %d accesses\n",
				stats.Classes, stats.Members, stats.Relations, stats.Accesses)
			return nil
		},
	}
	sel.register(neo)
	neo.Flags().StringVar(&snapshot, "snapshot", "", "export a snapshot (ID or latest:<scope>) instead of importing")

	cmd.AddCommand(neo)
	return cmd
}
