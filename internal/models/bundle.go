package models

// RunBundle is the full read shape for one run: metadata with counters,
// every page and edge record, and the topology maps
type RunBundle struct {
	Run           *AnalysisRun     `json:"run"`
	Pages         []*PageRecord    `json:"pages"`
	Links         []*LinkRecord    `json:"links"`
	Relationships *RelationshipSet `json:"relationships"`
}
