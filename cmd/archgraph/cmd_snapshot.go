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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/archgraph/services/archgraph/graph"
)

func newSnapshotCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect saved graph snapshots",
	}

	var (
		scope string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeDB, err := openSnapshots(a.cfg.Snapshot.Dir, a.logger)
			if err != nil {
				return err
			}
			defer closeDB()
			scopeHash := ""
			if scope != "" {
				scopeHash = graph.ScopeHash(scope)
			}
			snaps, err := mgr.List(cmd.Context(), scopeHash, limit)
			if err != nil {
				return err
			}
			newRenderer(cmd.OutOrStdout()).snapshotTable(snaps)
			return nil
		},
	}
	list.Flags().StringVar(&scope, "scope", "", "only snapshots of this import scope")
	list.Flags().IntVar(&limit, "limit", graph.DefaultSnapshotListLimit, "maximum snapshots to list")

	show := &cobra.Command{
		Use:   "show <snapshot-id | latest:scope>",
		Short: "Load a snapshot and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeDB, err := openSnapshots(a.cfg.Snapshot.Dir, a.logger)
			if err != nil {
				return err
			}
			defer closeDB()
			g, meta, err := loadSnapshotArg(cmd, mgr, args[0])
			if err != nil {
				return err
			}
			newRenderer(cmd.OutOrStdout()).graphSummary(g, meta)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// loadSnapshotArg loads "latest:<scope>" or a snapshot ID.
func loadSnapshotArg(cmd *cobra.Command, mgr *graph.SnapshotManager, arg string) (*graph.Graph, *graph.SnapshotMetadata, error) {
	if scope, ok := strings.CutPrefix(arg, "latest:"); ok {
		return mgr.LoadLatest(cmd.Context(), graph.ScopeHash(scope))
	}
	return mgr.Load(cmd.Context(), arg)
}
