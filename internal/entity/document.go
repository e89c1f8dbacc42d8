package entity

import (
	"time"

	"github.com/google/uuid"
)

// Page is one page of extracted text. Immutable once extracted.
type Page struct {
	Index int    `json:"index"` // 1-based, matching PDF page numbering
	Text  string `json:"text"`
}

// Document is a source PDF traversing the pipeline.
type Document struct {
	ID         uuid.UUID `json:"id"`
	SourcePath string    `json:"source_path"`
	PageCount  int       `json:"page_count"`
	SizeBytes  int64     `json:"size_bytes"`
	IngestedAt time.Time `json:"ingested_at"`
	Pages      []Page    `json:"-"`
}

// PageText returns the text of the 1-based page index, or "" when out of range.
func (d *Document) PageText(index int) string {
	for _, p := range d.Pages {
		if p.Index == index {
			return p.Text
		}
	}
	return ""
}

// SpanText concatenates page texts for an inclusive 1-based page range.
func (d *Document) SpanText(start, end int) string {
	var out string
	for _, p := range d.Pages {
		if p.Index >= start && p.Index <= end {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}
