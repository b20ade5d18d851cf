package models

import (
	"fmt"
	"time"
)

// RelationshipSet captures the parent-child topology of one run. The three
// maps are written together at run completion and are mutually consistent:
// the children map is the exact inverse of the parent map, and every path is
// the parent's path extended by one URL.
//
// Parentage follows first discovery. A URL linked from many pages appears as
// a child of exactly one of them: the page that was dequeued first.
type RelationshipSet struct {
	RunID   string `json:"run_id"`
	SeedURL string `json:"seed_url"`

	ParentMap   map[string]string   `json:"parent_map"`   // child URL -> parent URL; seed absent
	ChildrenMap map[string][]string `json:"children_map"` // parent URL -> children in discovery order
	PathMap     map[string][]string `json:"path_map"`     // URL -> seed-to-URL chain, inclusive

	GeneratedAt time.Time `json:"generated_at"`
}

// NewRelationshipSet initializes an empty topology rooted at the seed
func NewRelationshipSet(runID, seedURL string) *RelationshipSet {
	return &RelationshipSet{
		RunID:       runID,
		SeedURL:     seedURL,
		ParentMap:   make(map[string]string),
		ChildrenMap: make(map[string][]string),
		PathMap:     map[string][]string{seedURL: {seedURL}},
		GeneratedAt: time.Now(),
	}
}

// Parent returns the first-discovery parent of a URL, or "" for the seed
// and for URLs the run never saw.
func (rs *RelationshipSet) Parent(url string) string {
	return rs.ParentMap[url]
}

// Children returns the URLs first discovered on the given page, in
// discovery order
func (rs *RelationshipSet) Children(url string) []string {
	return rs.ChildrenMap[url]
}

// Path returns the seed-to-URL chain, or nil for unknown URLs
func (rs *RelationshipSet) Path(url string) []string {
	return rs.PathMap[url]
}

// Contains reports whether the URL was discovered during the run
func (rs *RelationshipSet) Contains(url string) bool {
	_, ok := rs.PathMap[url]
	return ok
}

// Verify checks the structural consistency of the topology and returns the
// first violation found. A clean topology is a tree rooted at the seed:
// every non-seed URL has exactly one parent, appears in exactly that
// parent's child list, and carries a path equal to the parent's path plus
// itself.
func (rs *RelationshipSet) Verify() error {
	if _, ok := rs.ParentMap[rs.SeedURL]; ok {
		return fmt.Errorf("seed %s has a parent entry", rs.SeedURL)
	}

	seedPath := rs.PathMap[rs.SeedURL]
	if len(seedPath) != 1 || seedPath[0] != rs.SeedURL {
		return fmt.Errorf("seed path must be [%s], got %v", rs.SeedURL, seedPath)
	}

	// Each URL may appear in at most one child list, and only once there
	seen := make(map[string]string, len(rs.ParentMap))
	for parent, children := range rs.ChildrenMap {
		for _, child := range children {
			if child == rs.SeedURL {
				return fmt.Errorf("seed %s listed as child of %s", rs.SeedURL, parent)
			}
			if prev, dup := seen[child]; dup {
				return fmt.Errorf("%s appears in child lists of both %s and %s", child, prev, parent)
			}
			seen[child] = parent
		}
	}

	// Parent map and children map must be exact inverses
	if len(seen) != len(rs.ParentMap) {
		return fmt.Errorf("children map holds %d URLs but parent map holds %d", len(seen), len(rs.ParentMap))
	}
	for child, parent := range rs.ParentMap {
		if seen[child] != parent {
			return fmt.Errorf("%s has parent %s but sits in child list of %s", child, parent, seen[child])
		}
	}

	// Paths extend the parent's path by exactly the child URL
	for child, parent := range rs.ParentMap {
		parentPath, ok := rs.PathMap[parent]
		if !ok {
			return fmt.Errorf("parent %s of %s has no path", parent, child)
		}
		childPath, ok := rs.PathMap[child]
		if !ok {
			return fmt.Errorf("%s has no path", child)
		}
		if len(childPath) != len(parentPath)+1 || childPath[len(childPath)-1] != child {
			return fmt.Errorf("path of %s does not extend path of %s", child, parent)
		}
		for i := range parentPath {
			if childPath[i] != parentPath[i] {
				return fmt.Errorf("path of %s diverges from path of %s at position %d", child, parent, i)
			}
		}
	}

	// No orphan paths
	for url := range rs.PathMap {
		if url == rs.SeedURL {
			continue
		}
		if _, ok := rs.ParentMap[url]; !ok {
			return fmt.Errorf("%s has a path but no parent", url)
		}
	}

	return nil
}
