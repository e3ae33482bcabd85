// Package labels parses a model's label manifest (selected_tags.csv)
// into an index mapping classifier output positions to label names and
// categories.
package labels

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// WD tagger category codes, fixed by the model format.
const (
	CategoryGeneral   = 0
	CategoryCharacter = 4
	CategoryRating    = 9
)

// CorruptError indicates that a model's label manifest is missing or
// malformed. A model with a corrupt manifest is not usable.
type CorruptError struct {
	Model  string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("model %s label manifest corrupt: %s", e.Model, e.Reason)
}

// Index is the parsed label manifest for one model. Names is ordered so
// that position i corresponds to classifier output index i. General,
// Character and Rating partition those indices by category code.
type Index struct {
	Names     []string
	General   []int
	Character []int
	Rating    []int
}

// Parse reads a label manifest from r. The expected format is a CSV
// with a header row and data rows of at least
// [tag_id, name, category, ...]. The classifier output index of a label
// is its zero-based data-row position; the tag_id column is metadata
// from the source taxonomy and must not be used as an index.
func Parse(model string, r io.Reader) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	idx := &Index{}
	headerRead := false
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &CorruptError{Model: model, Reason: err.Error()}
		}
		if !headerRead {
			headerRead = true
			continue
		}
		if len(rec) < 3 {
			return nil, &CorruptError{Model: model, Reason: fmt.Sprintf("row %d has %d columns, need at least 3", len(idx.Names)+1, len(rec))}
		}
		name := strings.TrimSpace(rec[1])
		category, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, &CorruptError{Model: model, Reason: fmt.Sprintf("row %d has non-numeric category %q", len(idx.Names)+1, rec[2])}
		}

		pos := len(idx.Names)
		idx.Names = append(idx.Names, name)
		switch category {
		case CategoryGeneral:
			idx.General = append(idx.General, pos)
		case CategoryCharacter:
			idx.Character = append(idx.Character, pos)
		case CategoryRating:
			idx.Rating = append(idx.Rating, pos)
		}
	}
	if len(idx.Names) == 0 {
		return nil, &CorruptError{Model: model, Reason: "no label rows"}
	}
	return idx, nil
}

// Loader loads label indexes from disk and memoizes them per model id
// for the lifetime of the process. Failed loads are not cached.
type Loader struct {
	mu    sync.Mutex
	cache map[string]*Index
}

func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*Index)}
}

// Load returns the label index for the given model id, parsing path on
// first use.
func (l *Loader) Load(model, path string) (*Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx, ok := l.cache[model]; ok {
		return idx, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &CorruptError{Model: model, Reason: fmt.Sprintf("open label manifest: %v", err)}
	}
	defer f.Close()

	idx, err := Parse(model, f)
	if err != nil {
		return nil, err
	}
	l.cache[model] = idx
	return idx, nil
}

// Invalidate drops the cached index for a model id. Called when a model
// is deleted so a reinstall reparses from disk.
func (l *Loader) Invalidate(model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, model)
}
