package batch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lumeview/tagrunner/pkg/catalog"
	"github.com/lumeview/tagrunner/pkg/engine"
	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/store"
	"github.com/lumeview/tagrunner/pkg/tagproc"
)

// EmitFunc delivers one event to the consumer. A non-nil error means
// the consumer is gone and the orchestrator stops emitting.
type EmitFunc func(Event) error

type classifier interface {
	Classify(m catalog.Model, imagePath string, th engine.Thresholds) (*engine.Result, error)
}

type modelStatus interface {
	Status(m catalog.Model) store.Status
}

// Orchestrator drives one batch at a time. Items are processed
// strictly sequentially; the inference session is not assumed safe for
// concurrent calls.
type Orchestrator struct {
	engine classifier
	store  modelStatus
	log    logging.Logger
}

func NewOrchestrator(e classifier, st modelStatus, log logging.Logger) *Orchestrator {
	return &Orchestrator{engine: e, store: st, log: log}
}

// Run processes req item by item, emitting progress, then a result or
// an item-scoped error, for each. One bad image never aborts the
// batch. After the last item exactly one complete event is emitted.
// Setup failures produce a single top-level error and no complete.
//
// Cancellation is the consumer's concern: a closed stream surfaces as
// an emit error and Run returns quietly. The context is only checked
// between items, so cancellation latency is bounded by the current
// item's processing time.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit EmitFunc) {
	m, err := catalog.Get(req.Model)
	if err != nil {
		o.fail(emit, fmt.Sprintf("unknown model %q", req.Model))
		return
	}
	if st := o.store.Status(m); st != store.StatusReady {
		o.fail(emit, fmt.Sprintf("model %s is not installed", m.ID))
		return
	}
	if len(req.Items) == 0 {
		o.fail(emit, "batch contains no items")
		return
	}

	total := len(req.Items)
	th := req.Options.Thresholds()
	if req.RunID != "" {
		o.log.Infof("batch %s: %d items with model %s", req.RunID, total, m.ID)
	}
	for i, item := range req.Items {
		if ctx.Err() != nil {
			o.log.Infof("batch cancelled after %d of %d items", i, total)
			return
		}
		if err := emit(Event{Type: EventProgress, Index: i, Total: total, Item: item.ID}); err != nil {
			o.log.Debugf("consumer closed stream: %v", err)
			return
		}

		path := filepath.Join(req.Dir, item.ID+item.Ext)
		res, err := o.engine.Classify(m, path, th)
		if err != nil {
			o.log.Warnf("item %s failed: %v", item.ID, err)
			if err := emit(Event{Type: EventError, Item: item.ID, Message: err.Error()}); err != nil {
				return
			}
			continue
		}

		tags := tagproc.Process(res, req.Options)
		if err := emit(Event{Type: EventResult, Item: item.ID, Tags: tags}); err != nil {
			return
		}
	}

	if err := emit(Event{Type: EventComplete, Total: total}); err != nil {
		o.log.Debugf("consumer closed stream before completion: %v", err)
	}
}

func (o *Orchestrator) fail(emit EmitFunc, msg string) {
	o.log.Errorf("batch setup failed: %s", msg)
	if err := emit(Event{Type: EventError, Message: msg}); err != nil {
		o.log.Debugf("consumer closed stream: %v", err)
	}
}
