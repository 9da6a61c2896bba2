// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layout

import (
	"sort"

	"github.com/shuxueshuxue/Codebox/services/codebox/model"
)

// Plan is the output of a layout computation.
type Plan struct {
	// Coords maps every live feature id to its cell.
	Coords map[int64]model.Axial

	// Layers holds feature ids per row. The last row is the fallback layer
	// when Cyclic is non-zero.
	Layers [][]int64

	// Cyclic counts features that never reached in-degree zero.
	Cyclic int

	// ProbeSteps counts +q probe moves per unlocked feature, in placement
	// order.
	ProbeSteps []int
}

// Compute lays out a feature graph on the hex grid.
//
// Description:
//
//	Deleted features are ignored, as are edges with a deleted or unknown
//	endpoint. Features are layered with Kahn's algorithm; features that
//	never reach in-degree zero form one final layer. Column col of row
//	row becomes q = col - row/2, r = row. Locked features with a stored
//	coordinate keep it and reserve it; every other feature probes along
//	+q from its candidate until it finds a free cell.
//
// Thread Safety: Pure function.
func Compute(features []model.Feature, edges []model.FeatureEdge) Plan {
	live := make([]model.Feature, 0, len(features))
	byID := make(map[int64]model.Feature, len(features))
	for _, f := range features {
		if f.IsDeleted {
			continue
		}
		live = append(live, f)
		byID[f.ID] = f
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	sortedEdges := append([]model.FeatureEdge(nil), edges...)
	sort.Slice(sortedEdges, func(i, j int) bool { return sortedEdges[i].ID < sortedEdges[j].ID })

	layers, cyclic := layer(live, sortedEdges, byID)
	plan := Plan{
		Coords: make(map[int64]model.Axial, len(live)),
		Layers: layers,
		Cyclic: cyclic,
	}

	reserved := make(map[model.Axial]struct{}, len(live))
	for _, f := range live {
		if c, ok := f.Coord(); ok && f.Locked {
			reserved[c] = struct{}{}
		}
	}

	for row, ids := range layers {
		for col, id := range ids {
			f := byID[id]
			if c, ok := f.Coord(); ok && f.Locked {
				plan.Coords[id] = c
				continue
			}
			c := model.Axial{Q: col - row/2, R: row}
			steps := 0
			for {
				if _, taken := reserved[c]; !taken {
					break
				}
				c.Q++
				steps++
			}
			reserved[c] = struct{}{}
			plan.Coords[id] = c
			plan.ProbeSteps = append(plan.ProbeSteps, steps)
		}
	}
	return plan
}

// layer returns width-preserving Kahn layers over live ids in ascending id
// order, plus the number of ids placed in the trailing fallback layer.
func layer(live []model.Feature, edges []model.FeatureEdge, byID map[int64]model.Feature) ([][]int64, int) {
	indeg := make(map[int64]int, len(live))
	adj := make(map[int64][]int64, len(live))
	for _, f := range live {
		indeg[f.ID] = 0
	}
	for _, e := range edges {
		if e.IsDeleted {
			continue
		}
		if _, ok := byID[e.FromFeatureID]; !ok {
			continue
		}
		if _, ok := byID[e.ToFeatureID]; !ok {
			continue
		}
		adj[e.FromFeatureID] = append(adj[e.FromFeatureID], e.ToFeatureID)
		indeg[e.ToFeatureID]++
	}

	var current []int64
	for _, f := range live {
		if indeg[f.ID] == 0 {
			current = append(current, f.ID)
		}
	}

	placed := make(map[int64]struct{}, len(live))
	var layers [][]int64
	for len(current) > 0 {
		layers = append(layers, current)
		var next []int64
		for _, id := range current {
			placed[id] = struct{}{}
			for _, to := range adj[id] {
				indeg[to]--
				if indeg[to] == 0 {
					next = append(next, to)
				}
			}
		}
		current = next
	}

	var fallback []int64
	for _, f := range live {
		if _, ok := placed[f.ID]; !ok {
			fallback = append(fallback, f.ID)
		}
	}
	if len(fallback) > 0 {
		layers = append(layers, fallback)
	}
	return layers, len(fallback)
}
