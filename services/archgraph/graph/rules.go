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

import "strings"

// IsAccessToUpperPackage reports whether the origin's outermost class lives
// in a sub-package of the target's outermost class, e.g. com.acme.web
// accessing com.acme.
func IsAccessToUpperPackage(e *AccessEdge) bool {
	origin := e.Origin.OutermostEnclosingClass().PackageName()
	target := e.Target.OutermostEnclosingClass().PackageName()
	return strings.HasPrefix(origin, target+".")
}

// AccessesToUpperPackage returns every access of the graph that reaches into
// an upper package, in assembly order.
func AccessesToUpperPackage(g *Graph) []*AccessEdge {
	var out []*AccessEdge
	for _, e := range g.edges {
		if IsAccessToUpperPackage(e) {
			out = append(out, e)
		}
	}
	return out
}
