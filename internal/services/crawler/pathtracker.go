package crawler

import (
	"github.com/ternarybob/lustro/internal/models"
)

// PathTracker accumulates the parent/child topology of one run as the
// frontier observes links. Parentage follows first discovery: the first
// page to mention a URL becomes its parent, and later mentions change
// nothing, so the resulting maps always form a tree rooted at the seed.
//
// Not safe for concurrent use; the frontier owns it and calls it from the
// collection loop only.
type PathTracker struct {
	set *models.RelationshipSet
}

func NewPathTracker(runID, seedURL string) *PathTracker {
	return &PathTracker{set: models.NewRelationshipSet(runID, seedURL)}
}

// Observe records an observation of childURL on parentURL. The first
// observation fixes the child's parent and path and returns true; anything
// already known, the seed itself, and self-references return false.
func (pt *PathTracker) Observe(parentURL, childURL string) bool {
	if childURL == pt.set.SeedURL || childURL == parentURL {
		return false
	}
	if _, known := pt.set.ParentMap[childURL]; known {
		return false
	}

	parentPath, ok := pt.set.PathMap[parentURL]
	if !ok {
		// Parent was never observed; attaching here would orphan the child
		return false
	}

	pt.set.ParentMap[childURL] = parentURL
	pt.set.ChildrenMap[parentURL] = append(pt.set.ChildrenMap[parentURL], childURL)

	path := make([]string, len(parentPath)+1)
	copy(path, parentPath)
	path[len(parentPath)] = childURL
	pt.set.PathMap[childURL] = path

	return true
}

// Known reports whether the URL has been observed (the seed counts)
func (pt *PathTracker) Known(url string) bool {
	_, ok := pt.set.PathMap[url]
	return ok
}

// Depth returns the BFS distance from the seed, or -1 for unknown URLs
func (pt *PathTracker) Depth(url string) int {
	path, ok := pt.set.PathMap[url]
	if !ok {
		return -1
	}
	return len(path) - 1
}

// Path returns the seed-to-URL chain, or nil for unknown URLs
func (pt *PathTracker) Path(url string) []string {
	return pt.set.Path(url)
}

// HasChildren reports whether at least one URL was first discovered on the
// given page
func (pt *PathTracker) HasChildren(url string) bool {
	return len(pt.set.ChildrenMap[url]) > 0
}

// Set returns the accumulated topology
func (pt *PathTracker) Set() *models.RelationshipSet {
	return pt.set
}
