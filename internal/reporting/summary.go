// internal/reporting/summary.go
package reporting

import (
	"sort"

	"github.com/xkilldash9x/grab/api/schemas"
)

// FileStat is one entry of the largest-files list.
type FileStat struct {
	StoragePath string `json:"storage_path"`
	SourceURL   string `json:"source_url"`
	ByteSize    int64  `json:"byte_size"`
}

// Summary is the end of run digest of a manifest.
type Summary struct {
	Target       string     `json:"target"`
	SessionID    string     `json:"session_id"`
	ManifestPath string     `json:"manifest_path,omitempty"`
	TotalFiles   int        `json:"total_files"`
	TotalBytes   int64      `json:"total_bytes"`
	Actions      int        `json:"actions"`
	FailedFetch  int64      `json:"failed_fetches"`
	Largest      []FileStat `json:"largest"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

// Summarize computes totals and the topN largest resources. Ties keep
// capture order.
func Summarize(m *schemas.Manifest, topN int) Summary {
	s := Summary{
		Target:     m.Target,
		SessionID:  m.SessionID,
		TotalFiles: len(m.Resources),
		Actions:    len(m.Actions),
		Largest:    []FileStat{},
	}

	sorted := make([]schemas.CapturedResource, len(m.Resources))
	copy(sorted, m.Resources)
	for _, r := range sorted {
		s.TotalBytes += r.ByteSize
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ByteSize > sorted[j].ByteSize
	})

	if topN > len(sorted) {
		topN = len(sorted)
	}
	for _, r := range sorted[:max(topN, 0)] {
		s.Largest = append(s.Largest, FileStat{
			StoragePath: r.StoragePath,
			SourceURL:   r.SourceURL,
			ByteSize:    r.ByteSize,
		})
	}
	return s
}
