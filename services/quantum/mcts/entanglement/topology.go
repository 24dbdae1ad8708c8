// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entanglement

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"
)

// Topology summarizes the shape of the entanglement network.
//
// Only nodes with at least one edge are counted.
type Topology struct {
	NodeCount             int     `json:"node_count"`
	EdgeCount             int     `json:"edge_count"`
	Components            int     `json:"components"`
	LargestComponent      int     `json:"largest_component"`
	Connectivity          float64 `json:"connectivity"`
	Density               float64 `json:"density"`
	AverageDegree         float64 `json:"average_degree"`
	MaxDegree             int     `json:"max_degree"`
	DegreeVariance        float64 `json:"degree_variance"`
	ClusteringCoefficient float64 `json:"clustering_coefficient"`
	AverageStrength       float64 `json:"average_strength"`
}

// IsConnected reports whether every entangled node is in one component.
func (t Topology) IsConnected() bool {
	return t.Components <= 1
}

// AnalyzeNetworkTopology computes Topology under the graph read lock.
func (e *Engine) AnalyzeNetworkTopology() Topology {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var t Topology
	t.NodeCount = len(e.adj)
	t.EdgeCount = len(e.edges)
	if t.NodeCount == 0 {
		return t
	}

	g := simple.NewUndirectedGraph()
	for id := range e.adj {
		g.AddNode(simple.Node(id))
	}
	strengths := make([]float64, 0, len(e.edges))
	for k, edge := range e.edges {
		g.SetEdge(simple.Edge{F: simple.Node(k.lo), T: simple.Node(k.hi)})
		strengths = append(strengths, edge.Strength)
	}
	if len(strengths) > 0 {
		t.AverageStrength = stat.Mean(strengths, nil)
	}

	components := topo.ConnectedComponents(g)
	t.Components = len(components)
	for _, c := range components {
		if len(c) > t.LargestComponent {
			t.LargestComponent = len(c)
		}
	}
	t.Connectivity = float64(t.LargestComponent) / float64(t.NodeCount)

	n := float64(t.NodeCount)
	if t.NodeCount > 1 {
		t.Density = 2 * float64(t.EdgeCount) / (n * (n - 1))
	}

	degrees := make([]float64, 0, t.NodeCount)
	clustering := 0.0
	nodes := g.Nodes()
	for nodes.Next() {
		u := nodes.Node()
		deg := g.From(u.ID()).Len()
		degrees = append(degrees, float64(deg))
		if deg > t.MaxDegree {
			t.MaxDegree = deg
		}
		clustering += localClustering(g, u)
	}
	t.AverageDegree, t.DegreeVariance = stat.PopMeanVariance(degrees, nil)
	t.ClusteringCoefficient = clustering / n
	return t
}

// localClustering is the fraction of u's neighbour pairs that are linked.
func localClustering(g *simple.UndirectedGraph, u graph.Node) float64 {
	neighbours := graph.NodesOf(g.From(u.ID()))
	k := len(neighbours)
	if k < 2 {
		return 0
	}
	links := 0
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if g.HasEdgeBetween(neighbours[i].ID(), neighbours[j].ID()) {
				links++
			}
		}
	}
	return 2 * float64(links) / float64(k*(k-1))
}
