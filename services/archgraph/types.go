// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archgraph

import (
	"github.com/AleutianAI/archgraph/services/archgraph/graph"
	"github.com/AleutianAI/archgraph/services/archgraph/importer"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`

	// RunID is the run of the current graph, empty before the first import.
	RunID string `json:"run_id,omitempty"`
}

// ImportResponse is returned by POST /import.
type ImportResponse struct {
	RunID     string         `json:"run_id"`
	Scope     string         `json:"scope"`
	GraphHash string         `json:"graph_hash"`
	Stats     importer.Stats `json:"stats"`

	// Warnings lists the locations that could not be read.
	Warnings []string `json:"warnings"`

	SnapshotID string `json:"snapshot_id,omitempty"`
}

// ClassSummary is one entry of GET /classes.
type ClassSummary struct {
	Name      string   `json:"name"`
	Package   string   `json:"package"`
	Stub      bool     `json:"stub"`
	Interface bool     `json:"interface"`
	Modifiers []string `json:"modifiers,omitempty"`
	SourceURI string   `json:"source_uri,omitempty"`
}

// ListClassesResponse is returned by GET /classes.
type ListClassesResponse struct {
	Classes []ClassSummary `json:"classes"`
	Total   int            `json:"total"`
}

// MemberView is one member of a class.
type MemberView struct {
	Kind        string   `json:"kind"`
	Name        string   `json:"name"`
	Descriptor  string   `json:"descriptor"`
	FullName    string   `json:"full_name"`
	Modifiers   []string `json:"modifiers,omitempty"`
	Type        string   `json:"type,omitempty"`
	GenericType string   `json:"generic_type,omitempty"`
}

// DependencyView is one dependency of a class.
type DependencyView struct {
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Member string `json:"member,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// ClassDetail is returned by GET /classes/:name.
type ClassDetail struct {
	ClassSummary

	Superclass        string           `json:"superclass,omitempty"`
	GenericSuperclass string           `json:"generic_superclass,omitempty"`
	Interfaces        []string         `json:"interfaces,omitempty"`
	EnclosingClass    string           `json:"enclosing_class,omitempty"`
	TypeParameters    []string         `json:"type_parameters,omitempty"`
	Annotations       []string         `json:"annotations,omitempty"`
	Members           []MemberView     `json:"members,omitempty"`
	Dependencies      []DependencyView `json:"dependencies,omitempty"`
	AccessesFromSelf  int              `json:"accesses_from_self"`
	AccessesToSelf    int              `json:"accesses_to_self"`
}

// AccessView is one access edge.
type AccessView struct {
	Kind           string `json:"kind"`
	Origin         string `json:"origin"`
	OriginMember   string `json:"origin_member"`
	Target         string `json:"target"`
	TargetMember   string `json:"target_member,omitempty"`
	DeclaringClass string `json:"declaring_class,omitempty"`
	Line           int    `json:"line"`
	Description    string `json:"description"`
}

// ListAccessesResponse is returned by GET /accesses.
type ListAccessesResponse struct {
	Accesses []AccessView `json:"accesses"`
	Total    int          `json:"total"`
}

// FailureView is one failure list entry.
type FailureView struct {
	ClassName string             `json:"class_name,omitempty"`
	Source    string             `json:"source,omitempty"`
	Stage     graph.FailureStage `json:"stage"`
	Error     string             `json:"error"`
}

// ListFailuresResponse is returned by GET /failures.
type ListFailuresResponse struct {
	Failures []FailureView `json:"failures"`
}

// ListSnapshotsResponse is returned by GET /snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*graph.SnapshotMetadata `json:"snapshots"`
}

func summaryOf(n *graph.ClassNode) ClassSummary {
	return ClassSummary{
		Name:      n.Name(),
		Package:   n.PackageName(),
		Stub:      n.IsStub(),
		Interface: n.IsInterface(),
		Modifiers: n.Modifiers().ClassNames(),
		SourceURI: n.SourceURI(),
	}
}

func detailOf(n *graph.ClassNode) ClassDetail {
	d := ClassDetail{
		ClassSummary:     summaryOf(n),
		AccessesFromSelf: len(n.AccessesFromSelf()),
		AccessesToSelf:   len(n.AccessesToSelf()),
	}
	if s, ok := n.Superclass(); ok {
		d.Superclass = s.Name()
	}
	if gs := n.GenericSuperclass(); gs != nil {
		d.GenericSuperclass = gs.Name()
	}
	for _, i := range n.Interfaces() {
		d.Interfaces = append(d.Interfaces, i.Name())
	}
	if e, ok := n.EnclosingClass(); ok {
		d.EnclosingClass = e.Name()
	}
	for _, tv := range n.TypeParameters() {
		d.TypeParameters = append(d.TypeParameters, tv.String())
	}
	for _, a := range n.Annotations() {
		d.Annotations = append(d.Annotations, a.Type.Name())
	}
	for _, m := range n.Members() {
		mv := MemberView{
			Kind:       m.Kind.String(),
			Name:       m.Name,
			Descriptor: m.Descriptor,
			FullName:   m.FullName(),
			Modifiers:  m.Modifiers.MemberNames(m.Kind),
		}
		if t := m.Type(); t != nil {
			mv.Type = t.Name()
		}
		if m.Signature != "" {
			if gt := m.GenericType(); gt != nil {
				mv.GenericType = gt.Name()
			}
		}
		d.Members = append(d.Members, mv)
	}
	for _, dep := range n.Dependencies() {
		d.Dependencies = append(d.Dependencies, DependencyView{
			Target: dep.Target.Name(),
			Kind:   string(dep.Kind),
			Member: dep.Member,
			Line:   dep.Line,
		})
	}
	return d
}

func accessViewOf(e *graph.AccessEdge) AccessView {
	v := AccessView{
		Kind:         e.Kind.String(),
		Origin:       e.Origin.Name(),
		OriginMember: e.OriginMember.String(),
		Target:       e.Target.Name(),
		TargetMember: e.TargetMember.String(),
		Line:         e.Line,
		Description:  e.Description(),
	}
	if e.DeclaringClass != nil {
		v.DeclaringClass = e.DeclaringClass.Name()
	}
	return v
}

func failureViewOf(f graph.Failure) FailureView {
	v := FailureView{ClassName: f.ClassName, Source: f.Source, Stage: f.Stage}
	if f.Err != nil {
		v.Error = f.Err.Error()
	}
	return v
}
