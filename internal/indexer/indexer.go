// Package indexer numbers the interactable elements of a page into
// per-generation scan results and resolves element references against them.
package indexer

import (
	"strings"
	"sync"
	"time"
)

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ElementRecord describes one interactable element found by a scan.
// Index is unique only within its generation; records from an older
// generation must never be used to address the live page.
type ElementRecord struct {
	Index       int               `json:"index"`
	Tag         string            `json:"tag"`
	Rect        Rect              `json:"rect"`
	VisibleText string            `json:"visibleText"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	FieldType   string            `json:"fieldType,omitempty"`
	Generation  uint64            `json:"scanGeneration"`
}

// ScanResult is the immutable output of one scan pass.
type ScanResult struct {
	Elements   []ElementRecord `json:"elements"`
	Generation uint64          `json:"generation"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Indexer hands out monotonically increasing scan generations.
type Indexer struct {
	mu  sync.Mutex
	gen uint64
}

func New() *Indexer {
	return &Indexer{}
}

// NextGeneration reserves the generation number for a new scan pass.
func (ix *Indexer) NextGeneration() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.gen++
	return ix.gen
}

// Build assembles a ScanResult from raw element data, assigning 0-based
// indices in encounter order.
func (ix *Indexer) Build(raw []RawElement) *ScanResult {
	return ix.BuildWithGeneration(raw, ix.NextGeneration())
}

// BuildWithGeneration builds a ScanResult under a generation already
// reserved via NextGeneration. Used when the generation number must be
// stamped into the page before the raw data comes back.
func (ix *Indexer) BuildWithGeneration(raw []RawElement, gen uint64) *ScanResult {
	elements := make([]ElementRecord, 0, len(raw))
	for i, r := range raw {
		elements = append(elements, ElementRecord{
			Index:       i,
			Tag:         strings.ToLower(r.Tag),
			Rect:        r.Rect,
			VisibleText: collapseSpace(r.Text),
			Attributes:  r.Attributes,
			FieldType:   r.FieldType,
			Generation:  gen,
		})
	}
	return &ScanResult{
		Elements:   elements,
		Generation: gen,
		Timestamp:  time.Now(),
	}
}

// RawElement is what the in-page scan script reports per element.
type RawElement struct {
	Tag        string            `json:"tag"`
	Rect       Rect              `json:"rect"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	FieldType  string            `json:"fieldType,omitempty"`
}

// ByIndex returns the record for a scan-local index, or nil when out of range.
func (s *ScanResult) ByIndex(i int) *ElementRecord {
	if s == nil || i < 0 || i >= len(s.Elements) {
		return nil
	}
	return &s.Elements[i]
}

// ByText returns the first element whose visible text contains the query,
// case-insensitively, in scan order. Multiple elements sharing the same
// text resolve to the earliest match.
func (s *ScanResult) ByText(query string) *ElementRecord {
	if s == nil || query == "" {
		return nil
	}
	q := strings.ToLower(strings.TrimSpace(query))
	for i := range s.Elements {
		if strings.Contains(strings.ToLower(s.Elements[i].VisibleText), q) {
			return &s.Elements[i]
		}
	}
	return nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
