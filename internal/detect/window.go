// Package detect finds statement boundaries in page text: AI-derived hints
// via the resilient invoker with a deterministic pattern fallback, fragment
// classification, and consolidation into non-overlapping statements.
package detect

import (
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/llm"
)

// BuildWindows slices pages into overlapping windows of size pages, sharing
// overlap pages between consecutive windows so a statement header is
// unlikely to be split by a window edge. Absolute page indices are kept.
func BuildWindows(pages []entity.Page, size, overlap int) []llm.WindowRequest {
	if len(pages) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(pages)
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}

	var windows []llm.WindowRequest
	for start := 0; start < len(pages); start += step {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		windows = append(windows, llm.WindowRequest{
			WindowIndex: len(windows),
			Pages:       pages[start:end],
		})
		if end == len(pages) {
			break
		}
	}
	return windows
}
