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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/archgraph/services/archgraph/importer"
)

// importFlags are the location selectors shared by import and export.
type importFlags struct {
	packages  []string
	classPath bool
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.packages, "package", "p", nil, "import packages found on the class path")
	cmd.Flags().BoolVar(&f.classPath, "classpath", false, "import every class path root")
}

// run imports the locations selected by args and flags. Exactly one of
// URIs, --package or --classpath must be given.
func (f *importFlags) run(ctx context.Context, imp *importer.Importer, uris []string) (*importer.Result, error) {
	selected := 0
	for _, set := range []bool{len(uris) > 0, len(f.packages) > 0, f.classPath} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return nil, fmt.Errorf("give exactly one of location arguments, --package or --classpath")
	}
	switch {
	case len(uris) > 0:
		return imp.ImportURIs(ctx, uris...)
	case len(f.packages) > 0:
		return imp.ImportPackages(ctx, f.packages...)
	default:
		return imp.ImportClassPath(ctx)
	}
}

func newImportCommand(a *app) *cobra.Command {
	var (
		sel      importFlags
		strict   bool
		snapshot bool
		label    string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "import [location...]",
		Short: "Import classes and print a summary of the resolved graph",
		Long: `Import reads every class file under the given locations (directories,
class files, jar/zip/jmod archives, jar:file:...!/path, s3:// or gs://
prefixes), resolves them into one graph and prints a summary.

Classes that cannot be read or parsed are listed as failures; the rest of
the graph is still built. With --strict a non-empty failure list makes the
command exit with status 2.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			imp, _, err := buildImporter(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			res, err := sel.run(ctx, imp, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res.Graph.ToSerializable()); err != nil {
					return err
				}
			} else {
				newRenderer(out).importSummary(res)
			}

			if snapshot {
				mgr, closeDB, err := openSnapshots(a.cfg.Snapshot.Dir, a.logger)
				if err != nil {
					return err
				}
				defer closeDB()
				meta, err := mgr.Save(ctx, res.Graph, label)
				if err != nil {
					return fmt.Errorf("saving snapshot: %w", err)
				}
				a.logger.Info("snapshot saved", slog.String("snapshot_id", meta.SnapshotID))
				if !asJSON {
					fmt.Fprintf(out, "snapshot %s saved\n", meta.SnapshotID)
				}
			}

			if strict && len(res.Failures) > 0 {
				return fmt.Errorf("%w: %d classes", errFailuresPresent, len(res.Failures))
			}
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with status 2 when any class failed")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "save the graph to the snapshot store")
	cmd.Flags().StringVar(&label, "label", "", "label stored with the snapshot")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the serializable graph as JSON instead of a summary")
	return cmd
}
