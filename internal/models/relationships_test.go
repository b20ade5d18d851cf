package models

import (
	"testing"
)

const testSeed = "https://example.com/"

// buildTopology links each child under its parent the way the crawler does:
// parent map, child list and path written together at first discovery.
func buildTopology(edges [][2]string) *RelationshipSet {
	rs := NewRelationshipSet("run-1", testSeed)
	for _, e := range edges {
		parent, child := e[0], e[1]
		rs.ParentMap[child] = parent
		rs.ChildrenMap[parent] = append(rs.ChildrenMap[parent], child)
		rs.PathMap[child] = append(append([]string{}, rs.PathMap[parent]...), child)
	}
	return rs
}

func TestRelationshipSet_Verify(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *RelationshipSet
		wantErr bool
	}{
		{
			name: "seed only",
			build: func() *RelationshipSet {
				return NewRelationshipSet("run-1", testSeed)
			},
			wantErr: false,
		},
		{
			name: "two level tree",
			build: func() *RelationshipSet {
				return buildTopology([][2]string{
					{testSeed, "https://example.com/a"},
					{testSeed, "https://example.com/b"},
					{"https://example.com/a", "https://example.com/a/1"},
				})
			},
			wantErr: false,
		},
		{
			name: "seed listed as child",
			build: func() *RelationshipSet {
				rs := buildTopology([][2]string{
					{testSeed, "https://example.com/a"},
				})
				rs.ChildrenMap["https://example.com/a"] = append(rs.ChildrenMap["https://example.com/a"], testSeed)
				return rs
			},
			wantErr: true,
		},
		{
			name: "url in two child lists",
			build: func() *RelationshipSet {
				rs := buildTopology([][2]string{
					{testSeed, "https://example.com/a"},
					{testSeed, "https://example.com/b"},
					{"https://example.com/a", "https://example.com/shared"},
				})
				rs.ChildrenMap["https://example.com/b"] = append(rs.ChildrenMap["https://example.com/b"], "https://example.com/shared")
				return rs
			},
			wantErr: true,
		},
		{
			name: "parent map entry missing from child list",
			build: func() *RelationshipSet {
				rs := buildTopology([][2]string{
					{testSeed, "https://example.com/a"},
				})
				rs.ParentMap["https://example.com/ghost"] = testSeed
				rs.PathMap["https://example.com/ghost"] = []string{testSeed, "https://example.com/ghost"}
				return rs
			},
			wantErr: true,
		},
		{
			name: "path does not extend parent path",
			build: func() *RelationshipSet {
				rs := buildTopology([][2]string{
					{testSeed, "https://example.com/a"},
				})
				rs.PathMap["https://example.com/a"] = []string{"https://example.com/a"}
				return rs
			},
			wantErr: true,
		},
		{
			name: "path diverges from parent chain",
			build: func() *RelationshipSet {
				rs := buildTopology([][2]string{
					{testSeed, "https://example.com/a"},
					{"https://example.com/a", "https://example.com/a/1"},
				})
				rs.PathMap["https://example.com/a/1"] = []string{"https://other.com/", "https://example.com/a", "https://example.com/a/1"}
				return rs
			},
			wantErr: true,
		},
		{
			name: "orphan path entry",
			build: func() *RelationshipSet {
				rs := NewRelationshipSet("run-1", testSeed)
				rs.PathMap["https://example.com/orphan"] = []string{testSeed, "https://example.com/orphan"}
				return rs
			},
			wantErr: true,
		},
		{
			name: "seed path malformed",
			build: func() *RelationshipSet {
				rs := NewRelationshipSet("run-1", testSeed)
				rs.PathMap[testSeed] = []string{testSeed, testSeed}
				return rs
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Verify()
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRelationshipSet_Accessors(t *testing.T) {
	rs := buildTopology([][2]string{
		{testSeed, "https://example.com/a"},
		{testSeed, "https://example.com/b"},
		{"https://example.com/a", "https://example.com/a/1"},
	})

	if got := rs.Parent("https://example.com/a/1"); got != "https://example.com/a" {
		t.Errorf("Parent: got %v, want https://example.com/a", got)
	}
	if got := rs.Parent(testSeed); got != "" {
		t.Errorf("Parent of seed: got %v, want empty", got)
	}

	children := rs.Children(testSeed)
	if len(children) != 2 || children[0] != "https://example.com/a" || children[1] != "https://example.com/b" {
		t.Errorf("Children: got %v, want discovery order [a b]", children)
	}

	path := rs.Path("https://example.com/a/1")
	if len(path) != 3 || path[0] != testSeed || path[2] != "https://example.com/a/1" {
		t.Errorf("Path: got %v, want seed-to-url chain", path)
	}

	if !rs.Contains("https://example.com/b") {
		t.Error("Contains: got false for discovered URL")
	}
	if rs.Contains("https://example.com/missing") {
		t.Error("Contains: got true for unknown URL")
	}
}
