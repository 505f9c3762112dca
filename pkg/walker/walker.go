package walker

import (
	"slices"
	"strings"

	"graphony/pkg/common"
	"graphony/pkg/docgraph"
)

// Filter restricts which documents a traversal may include. Empty slices
// mean "no restriction" for that dimension; exclusion wins over inclusion.
type Filter struct {
	IncludeTags    []string               `json:"include_tags" yaml:"include_tags"`
	ExcludeTags    []string               `json:"exclude_tags" yaml:"exclude_tags"`
	IncludeFolders []string               `json:"include_folders" yaml:"include_folders"`
	ExcludeFolders []string               `json:"exclude_folders" yaml:"exclude_folders"`
	FileTypes      []string               `json:"file_types" yaml:"file_types"`
	LinkDirections []common.LinkDirection `json:"link_directions" yaml:"link_directions"`
}

// Ordering ranks sibling candidates at one depth before the per-depth cap
// truncates them. It must be a strict deterministic order; ties in the
// caller-supplied order fall back to document id.
type Ordering func(a, b docgraph.Document) int

// DiscoveryOrder keeps the order in which links were discovered during
// breadth-first expansion. It is the default ordering.
func DiscoveryOrder(a, b docgraph.Document) int {
	return 0
}

// RecencyOrder ranks more recently created documents first.
func RecencyOrder(a, b docgraph.Document) int {
	return b.CreatedAt.Compare(a.CreatedAt)
}

// WalkParams configures one neighborhood traversal.
type WalkParams struct {
	CenterID string
	MaxDepth int

	// MaxNodesPerDepth caps how many nodes a single depth may contribute.
	// Zero means unlimited.
	MaxNodesPerDepth int

	Filter   Filter
	Ordering Ordering
}

// Walk produces the depth-tagged neighborhood around CenterID: every
// document reachable within MaxDepth hops that passes the filter, with
// depth equal to hop distance and the direction of the discovering edge.
// A missing center id yields an empty result, not an error. Walk is a pure
// function of the snapshot and its parameters.
func Walk(provider docgraph.Provider, params WalkParams) []common.GraphNode {
	center, ok := provider.Document(params.CenterID)
	if !ok {
		return nil
	}

	ordering := params.Ordering
	if ordering == nil {
		ordering = DiscoveryOrder
	}

	type candidate struct {
		doc       docgraph.Document
		direction common.LinkDirection
		seq       int
	}

	visited := map[string]bool{center.ID: true}
	nodes := []common.GraphNode{{
		ID:                center.ID,
		Depth:             0,
		CreationTimestamp: center.CreatedAt,
		SizeProxy:         center.SizeProxy,
		Tags:              center.Tags,
		LinkDirection:     common.LinkBidirectional,
	}}

	frontier := []docgraph.Document{center}
	for depth := 1; depth <= params.MaxDepth; depth++ {
		var candidates []candidate
		seq := 0
		for _, doc := range frontier {
			for _, neighbor := range neighborIDs(provider, doc.ID) {
				if visited[neighbor] {
					continue
				}
				next, ok := provider.Document(neighbor)
				if !ok {
					continue
				}
				direction := docgraph.Direction(provider, doc.ID, neighbor)
				if !passes(next, direction, params.Filter) {
					continue
				}
				visited[neighbor] = true
				candidates = append(candidates, candidate{doc: next, direction: direction, seq: seq})
				seq++
			}
		}

		slices.SortStableFunc(candidates, func(a, b candidate) int {
			if c := ordering(a.doc, b.doc); c != 0 {
				return c
			}
			return a.seq - b.seq
		})

		if params.MaxNodesPerDepth > 0 && len(candidates) > params.MaxNodesPerDepth {
			for _, dropped := range candidates[params.MaxNodesPerDepth:] {
				// Truncated nodes stay unvisited so a later depth could in
				// principle reach them through another edge.
				delete(visited, dropped.doc.ID)
			}
			candidates = candidates[:params.MaxNodesPerDepth]
			for _, kept := range candidates {
				visited[kept.doc.ID] = true
			}
		}

		frontier = frontier[:0]
		for _, c := range candidates {
			nodes = append(nodes, common.GraphNode{
				ID:                c.doc.ID,
				Depth:             depth,
				CreationTimestamp: c.doc.CreatedAt,
				SizeProxy:         c.doc.SizeProxy,
				Tags:              c.doc.Tags,
				LinkDirection:     c.direction,
			})
			frontier = append(frontier, c.doc)
		}
		if len(frontier) == 0 {
			break
		}
	}

	return nodes
}

func neighborIDs(provider docgraph.Provider, id string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, l := range provider.OutgoingLinks(id) {
		if !seen[l.To] {
			seen[l.To] = true
			ids = append(ids, l.To)
		}
	}
	for _, l := range provider.IncomingLinks(id) {
		if !seen[l.From] {
			seen[l.From] = true
			ids = append(ids, l.From)
		}
	}
	return ids
}

func passes(doc docgraph.Document, direction common.LinkDirection, f Filter) bool {
	for _, tag := range f.ExcludeTags {
		if slices.Contains(doc.Tags, tag) {
			return false
		}
	}
	if len(f.IncludeTags) > 0 {
		found := false
		for _, tag := range f.IncludeTags {
			if slices.Contains(doc.Tags, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, folder := range f.ExcludeFolders {
		if inFolder(doc.Folder, folder) {
			return false
		}
	}
	if len(f.IncludeFolders) > 0 {
		found := false
		for _, folder := range f.IncludeFolders {
			if inFolder(doc.Folder, folder) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.FileTypes) > 0 && !slices.Contains(f.FileTypes, doc.FileType) {
		return false
	}
	if len(f.LinkDirections) > 0 && !slices.Contains(f.LinkDirections, direction) {
		return false
	}
	return true
}

func inFolder(folder, prefix string) bool {
	folder = strings.Trim(folder, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return folder == ""
	}
	return folder == prefix || strings.HasPrefix(folder, prefix+"/")
}
