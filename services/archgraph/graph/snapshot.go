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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	archgraph:snap:{scope}:{id}:data  gzip(JSON(SerializableGraph))
//	archgraph:snap:{scope}:{id}:meta  JSON(SnapshotMetadata)
//	archgraph:snap:{scope}:latest     id
//	archgraph:snapid:{id}             scope
//
// where scope is ScopeHash(Graph.Scope).
const (
	snapPrefix   = "archgraph:snap:"
	snapIDPrefix = "archgraph:snapid:"
	metaSuffix   = ":meta"
)

// DefaultSnapshotListLimit caps List when no limit is given.
const DefaultSnapshotListLimit = 100

// SnapshotMetadata describes one stored snapshot.
type SnapshotMetadata struct {
	SnapshotID string `json:"snapshot_id"`
	RunID      string `json:"run_id"`
	Scope      string `json:"scope"`
	ScopeHash  string `json:"scope_hash"`
	GraphHash  string `json:"graph_hash"`
	Label      string `json:"label,omitempty"`

	CreatedAtMilli int64 `json:"created_at_milli"`

	ClassCount   int `json:"class_count"`
	StubCount    int `json:"stub_count"`
	AccessCount  int `json:"access_count"`
	FailureCount int `json:"failure_count"`

	SchemaVersion string `json:"schema_version"`

	// CompressedSize and ContentHash cover the stored payload; Load rejects
	// a payload whose hash no longer matches.
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
}

// snapshotKey addresses the records of one snapshot.
type snapshotKey struct {
	scopeHash string
	id        string
}

func (k snapshotKey) data() []byte { return []byte(snapPrefix + k.scopeHash + ":" + k.id + ":data") }
func (k snapshotKey) meta() []byte { return []byte(snapPrefix + k.scopeHash + ":" + k.id + metaSuffix) }
func (k snapshotKey) index() []byte {
	return []byte(snapIDPrefix + k.id)
}

func latestKey(scopeHash string) []byte { return []byte(snapPrefix + scopeHash + ":latest") }

// SnapshotManager keeps imported graphs in BadgerDB, grouped by scope with a
// latest pointer per scope.
//
// Thread Safety: Safe for concurrent use.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a manager over an opened BadgerDB. The caller
// owns the DB and closes it.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save stores g and makes it the latest snapshot of its scope.
func (m *SnapshotManager) Save(ctx context.Context, g *Graph, label string) (*SnapshotMetadata, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sg := g.ToSerializable()
	payload, err := encodeGraph(sg)
	if err != nil {
		return nil, err
	}

	stats := g.Stats()
	key := snapshotKey{
		scopeHash: ScopeHash(g.Scope),
		id:        hashBytes(fmt.Appendf(nil, "%s:%s:%d", g.Scope, g.RunID, g.BuiltAtMilli))[:16],
	}
	meta := &SnapshotMetadata{
		SnapshotID:     key.id,
		RunID:          g.RunID,
		Scope:          g.Scope,
		ScopeHash:      key.scopeHash,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		ClassCount:     stats.Classes,
		StubCount:      stats.Stubs,
		AccessCount:    stats.Accesses,
		FailureCount:   stats.Failures,
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(payload)),
		ContentHash:    hashBytes(payload),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	writes := []struct{ k, v []byte }{
		{key.data(), payload},
		{key.meta(), metaJSON},
		{latestKey(key.scopeHash), []byte(key.id)},
		{key.index(), []byte(key.scopeHash)},
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			if err := txn.Set(w.k, w.v); err != nil {
				return fmt.Errorf("setting %s: %w", w.k, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving snapshot %s: %w", key.id, err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", key.id),
		slog.String("scope", g.Scope),
		slog.Int("classes", meta.ClassCount),
		slog.Int64("bytes", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves a snapshot by ID. Unknown IDs wrap ErrSnapshotNotFound.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	return m.load(ctx, func(txn *badger.Txn) (snapshotKey, error) {
		scopeHash, err := getValue(txn, snapshotKey{id: snapshotID}.index())
		return snapshotKey{scopeHash: string(scopeHash), id: snapshotID}, err
	})
}

// LoadLatest loads the most recent snapshot saved for a scope hash.
func (m *SnapshotManager) LoadLatest(ctx context.Context, scopeHash string) (*Graph, *SnapshotMetadata, error) {
	if scopeHash == "" {
		return nil, nil, fmt.Errorf("scope hash must not be empty")
	}
	return m.load(ctx, func(txn *badger.Txn) (snapshotKey, error) {
		id, err := getValue(txn, latestKey(scopeHash))
		return snapshotKey{scopeHash: scopeHash, id: string(id)}, err
	})
}

func (m *SnapshotManager) load(ctx context.Context, locate func(*badger.Txn) (snapshotKey, error)) (*Graph, *SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		key              snapshotKey
		payload, rawMeta []byte
	)
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		if key, err = locate(txn); err != nil {
			return err
		}
		if payload, err = getValue(txn, key.data()); err != nil {
			return err
		}
		rawMeta, err = getValue(txn, key.meta())
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: bad metadata: %w", key.id, err)
	}
	if got := hashBytes(payload); meta.ContentHash != "" && got != meta.ContentHash {
		return nil, nil, fmt.Errorf("snapshot %s: integrity check failed: stored hash %s, payload hash %s", key.id, meta.ContentHash, got)
	}
	sg, err := decodeGraph(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", key.id, err)
	}
	g, err := FromSerializable(sg)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", key.id, err)
	}
	return g, &meta, nil
}

// List returns snapshot metadata, newest first. An empty scopeHash lists
// every scope. A limit <= 0 means DefaultSnapshotListLimit.
func (m *SnapshotManager) List(ctx context.Context, scopeHash string, limit int) ([]*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSnapshotListLimit
	}
	prefix := []byte(snapPrefix)
	if scopeHash != "" {
		prefix = []byte(snapPrefix + scopeHash + ":")
	}

	var out []*SnapshotMetadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !strings.HasSuffix(string(item.Key()), metaSuffix) {
				continue
			}
			meta := new(SnapshotMetadata)
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, meta) }); err != nil {
				m.logger.Warn("skipping unreadable snapshot metadata",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAtMilli > out[j].CreatedAtMilli })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a snapshot. The scope's latest pointer goes with it when it
// named this snapshot.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := m.db.Update(func(txn *badger.Txn) error {
		scopeHash, err := getValue(txn, snapshotKey{id: snapshotID}.index())
		if err != nil {
			return err
		}
		key := snapshotKey{scopeHash: string(scopeHash), id: snapshotID}
		for _, k := range [][]byte{key.data(), key.meta(), key.index()} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		latest, err := getValue(txn, latestKey(key.scopeHash))
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
			return nil
		case err != nil:
			return err
		case string(latest) == snapshotID:
			return txn.Delete(latestKey(key.scopeHash))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}
	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// ScopeHash returns the 16-hex-digit key grouping snapshots of one import
// scope.
func ScopeHash(scope string) string {
	return hashBytes([]byte(scope))[:16]
}

// getValue copies the value at key. A missing key is ErrSnapshotNotFound.
func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func encodeGraph(sg *SerializableGraph) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(zw).Encode(sg); err != nil {
		return nil, fmt.Errorf("encoding graph: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGraph(payload []byte) (*SerializableGraph, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompressing graph: %w", err)
	}
	defer zr.Close()
	var sg SerializableGraph
	if err := json.NewDecoder(zr).Decode(&sg); err != nil {
		return nil, fmt.Errorf("decoding graph: %w", err)
	}
	return &sg, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
