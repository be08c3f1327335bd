// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export writes assembled graphs to external stores.
package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/archgraph/services/archgraph/graph"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

// Neo4jOptions configures a Neo4jExporter.
type Neo4jOptions struct {
	// Logger receives one Info line per exported batch group.
	// Default: slog.Default()
	Logger *slog.Logger

	// BatchSize bounds the rows per statement.
	// Default: DefaultBatchSize
	BatchSize int

	// Database selects the target database. Empty means the server default.
	Database string
}

// Neo4jOption is a functional option for configuring a Neo4jExporter.
type Neo4jOption func(*Neo4jOptions)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Neo4jOption {
	return func(o *Neo4jOptions) {
		o.Logger = l
	}
}

// WithBatchSize sets the rows per statement.
func WithBatchSize(n int) Neo4jOption {
	return func(o *Neo4jOptions) {
		o.BatchSize = n
	}
}

// WithDatabase sets the target database.
func WithDatabase(name string) Neo4jOption {
	return func(o *Neo4jOptions) {
		o.Database = name
	}
}

// cypherRunner executes one parameterized statement.
type cypherRunner interface {
	run(ctx context.Context, cypher string, params map[string]any) error
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverRunner) run(ctx context.Context, cypher string, params map[string]any) error {
	var cfg []neo4j.ExecuteQueryConfigurationOption
	if d.database != "" {
		cfg = append(cfg, neo4j.ExecuteQueryWithDatabase(d.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, params, neo4j.EagerResultTransformer, cfg...)
	return err
}

// Neo4jExporter loads graphs into Neo4j with batched UNWIND/MERGE
// statements. Classes are keyed by name, so exporting the same scope twice
// updates nodes in place.
//
// Graph Model:
//
//	(:JavaClass {name})-[:IN_PACKAGE]->(:JavaPackage {name})
//	(:JavaClass)-[:EXTENDS|IMPLEMENTS|ENCLOSED_BY]->(:JavaClass)
//	(:JavaClass)-[:DECLARES]->(:JavaMember {key})
//	(:JavaClass)-[:ACCESSES {kind, origin_member, target_member, line}]->(:JavaClass)
//
// Thread Safety: Safe for concurrent use; the driver pools sessions.
type Neo4jExporter struct {
	runner  cypherRunner
	driver  neo4j.DriverWithContext
	options Neo4jOptions
}

// NewNeo4jExporter connects to Neo4j and verifies connectivity.
func NewNeo4jExporter(ctx context.Context, uri, user, password string, opts ...Neo4jOption) (*Neo4jExporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", uri, err)
	}
	e := newExporter(nil, opts...)
	e.driver = driver
	e.runner = &driverRunner{driver: driver, database: e.options.Database}
	return e, nil
}

func newExporter(runner cypherRunner, opts ...Neo4jOption) *Neo4jExporter {
	var options Neo4jOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	return &Neo4jExporter{runner: runner, options: options}
}

// Close releases the driver.
func (e *Neo4jExporter) Close(ctx context.Context) error {
	if e.driver == nil {
		return nil
	}
	return e.driver.Close(ctx)
}

// ExportStats counts the rows sent per kind.
type ExportStats struct {
	Packages  int `json:"packages"`
	Classes   int `json:"classes"`
	Members   int `json:"members"`
	Relations int `json:"relations"`
	Accesses  int `json:"accesses"`
}

var indexStatements = []string{
	"CREATE INDEX java_class_name IF NOT EXISTS FOR (n:JavaClass) ON (n.name)",
	"CREATE INDEX java_package_name IF NOT EXISTS FOR (n:JavaPackage) ON (n.name)",
	"CREATE INDEX java_member_key IF NOT EXISTS FOR (n:JavaMember) ON (n.key)",
}

const (
	cypherPackages = `UNWIND $batch AS row
MERGE (p:JavaPackage {name: row.name})`

	cypherClasses = `UNWIND $batch AS row
MERGE (c:JavaClass {name: row.name})
SET c.simple_name = row.simple_name, c.package = row.package, c.stub = row.stub,
    c.interface = row.interface, c.modifiers = row.modifiers, c.major_version = row.major_version,
    c.source_uri = row.source_uri, c.run_id = row.run_id
WITH c, row
MATCH (p:JavaPackage {name: row.package})
MERGE (c)-[:IN_PACKAGE]->(p)`

	cypherMembers = `UNWIND $batch AS row
MATCH (c:JavaClass {name: row.owner})
MERGE (m:JavaMember {key: row.key})
SET m.name = row.name, m.kind = row.kind, m.descriptor = row.descriptor,
    m.full_name = row.full_name, m.modifiers = row.modifiers
MERGE (c)-[:DECLARES]->(m)`

	cypherExtends = `UNWIND $batch AS row
MATCH (a:JavaClass {name: row.from}), (b:JavaClass {name: row.to})
MERGE (a)-[:EXTENDS]->(b)`

	cypherImplements = `UNWIND $batch AS row
MATCH (a:JavaClass {name: row.from}), (b:JavaClass {name: row.to})
MERGE (a)-[:IMPLEMENTS]->(b)`

	cypherEnclosedBy = `UNWIND $batch AS row
MATCH (a:JavaClass {name: row.from}), (b:JavaClass {name: row.to})
MERGE (a)-[:ENCLOSED_BY]->(b)`

	cypherAccesses = `UNWIND $batch AS row
MATCH (o:JavaClass {name: row.origin}), (t:JavaClass {name: row.target})
MERGE (o)-[r:ACCESSES {kind: row.kind, origin_member: row.origin_member, target_member: row.target_member, line: row.line}]->(t)
SET r.declaring_class = row.declaring_class, r.description = row.description`
)

// Export writes every node and access edge of g.
//
// Description:
//
//	Packages go first, then classes (stubs included, flagged), members,
//	structural relations and accesses, so every MATCH finds its nodes.
//	A failed statement aborts the export; rows already written stay.
func (e *Neo4jExporter) Export(ctx context.Context, g *graph.Graph) (ExportStats, error) {
	var stats ExportStats
	if g == nil {
		return stats, fmt.Errorf("graph must not be nil")
	}
	for _, stmt := range indexStatements {
		if err := e.runner.run(ctx, stmt, nil); err != nil {
			return stats, fmt.Errorf("creating index: %w", err)
		}
	}

	rel := RelationRows(g)
	steps := []struct {
		name   string
		cypher string
		rows   []map[string]any
		count  *int
	}{
		{"packages", cypherPackages, PackageRows(g), &stats.Packages},
		{"classes", cypherClasses, ClassRows(g), &stats.Classes},
		{"members", cypherMembers, MemberRows(g), &stats.Members},
		{"extends", cypherExtends, rel.Extends, &stats.Relations},
		{"implements", cypherImplements, rel.Implements, &stats.Relations},
		{"enclosed_by", cypherEnclosedBy, rel.EnclosedBy, &stats.Relations},
		{"accesses", cypherAccesses, AccessRows(g), &stats.Accesses},
	}
	for _, step := range steps {
		for _, batch := range batches(step.rows, e.options.BatchSize) {
			if err := e.runner.run(ctx, step.cypher, map[string]any{"batch": batch}); err != nil {
				return stats, fmt.Errorf("exporting %s: %w", step.name, err)
			}
			*step.count += len(batch)
		}
		e.options.Logger.Info("neo4j rows exported",
			slog.String("kind", step.name),
			slog.Int("rows", len(step.rows)),
			slog.String("run_id", g.RunID),
		)
	}
	return stats, nil
}

func batches(rows []map[string]any, size int) [][]map[string]any {
	var out [][]map[string]any
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
