// Package engine runs the multi-label classifier over single images
// and converts raw probabilities into per-category, thresholded score
// lists.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lumeview/tagrunner/pkg/catalog"
	"github.com/lumeview/tagrunner/pkg/labels"
	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/store"
)

// Score is one label with its predicted confidence in [0,1].
type Score struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Result holds the per-category classifier output for one image.
type Result struct {
	General   []Score `json:"general"`
	Character []Score `json:"character"`
	Rating    []Score `json:"rating"`
}

// Thresholds are the minimum confidences (inclusive) for a general or
// character label to be kept. Rating labels are never thresholded; the
// full ranked list is returned and callers keep the top entry.
type Thresholds struct {
	General   float32
	Character float32
}

// InferenceError reports a failure isolated to a single classify call.
// The engine instance stays usable for subsequent calls.
type InferenceError struct {
	Reason string
	Cause  error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("inference failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("inference failed: %s", e.Reason)
}

func (e *InferenceError) Unwrap() error { return e.Cause }

// session is one loaded classifier network. Sessions hold a stateful
// runtime handle and are not safe for concurrent runs; the engine
// serializes access.
type session interface {
	run(input []float32) ([]float32, error)
	close()
}

// Engine owns the per-model session and label-index caches. Both are
// lazily initialized exactly once per model id and shared by every
// batch run against that model.
type Engine struct {
	store  *store.LocalStore
	labels *labels.Loader
	log    logging.Logger

	mu         sync.Mutex
	sessions   map[string]session
	newSession func(modelPath string, m catalog.Model, classes int) (session, error)
}

// New creates an engine backed by the given store.
func New(st *store.LocalStore, log logging.Logger) *Engine {
	return &Engine{
		store:      st,
		labels:     labels.NewLoader(),
		log:        log,
		sessions:   make(map[string]session),
		newSession: newORTSession,
	}
}

// Labels returns the label index for a model, loading and caching it on
// first use.
func (e *Engine) Labels(m catalog.Model) (*labels.Index, error) {
	return e.labels.Load(m.ID, e.store.FilePath(m, catalog.LabelFileName))
}

// Close releases every loaded session.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sessions {
		s.close()
		delete(e.sessions, id)
	}
}

// Evict drops a model's cached session and label index. Called when the
// model is deleted from the store.
func (e *Engine) Evict(m catalog.Model) {
	e.mu.Lock()
	if s, ok := e.sessions[m.ID]; ok {
		s.close()
		delete(e.sessions, m.ID)
	}
	e.mu.Unlock()
	e.labels.Invalidate(m.ID)
}

// Classify runs the model over one image file. Unreadable images,
// session failures and shape mismatches come back as *InferenceError;
// a corrupt label manifest comes back as *labels.CorruptError.
func (e *Engine) Classify(m catalog.Model, imagePath string, th Thresholds) (*Result, error) {
	idx, err := e.Labels(m)
	if err != nil {
		return nil, err
	}

	img, err := DecodeImage(imagePath)
	if err != nil {
		return nil, &InferenceError{Reason: fmt.Sprintf("read image %s", imagePath), Cause: err}
	}
	input := Preprocess(img, m.InputSize)

	// The session is stateful; hold the lock across the forward pass so
	// concurrent callers serialize.
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[m.ID]
	if !ok {
		s, err = e.newSession(e.store.FilePath(m, catalog.ModelFileName), m, len(idx.Names))
		if err != nil {
			return nil, &InferenceError{Reason: "load model session", Cause: err}
		}
		e.sessions[m.ID] = s
		e.log.Infof("loaded session for %s (%d labels)", m.ID, len(idx.Names))
	}

	probs, err := s.run(input)
	if err != nil {
		return nil, &InferenceError{Reason: "forward pass", Cause: err}
	}
	if len(probs) != len(idx.Names) {
		return nil, &InferenceError{Reason: fmt.Sprintf("output has %d values for %d labels", len(probs), len(idx.Names))}
	}

	return Extract(idx, probs, th), nil
}

// Extract converts a raw probability vector into the per-category
// result. General and character labels are kept when their confidence
// is greater than or equal to the category threshold; rating labels are
// all kept. Every list is sorted by descending confidence with ties
// broken by ascending label index, so output is deterministic.
func Extract(idx *labels.Index, probs []float32, th Thresholds) *Result {
	pick := func(positions []int, threshold float32, all bool) []Score {
		var out []Score
		for _, p := range positions {
			if all || probs[p] >= threshold {
				out = append(out, Score{Label: idx.Names[p], Confidence: probs[p]})
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Confidence > out[j].Confidence
		})
		return out
	}
	return &Result{
		General:   pick(idx.General, th.General, false),
		Character: pick(idx.Character, th.Character, false),
		Rating:    pick(idx.Rating, 0, true),
	}
}
