package batch

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeview/tagrunner/pkg/catalog"
	"github.com/lumeview/tagrunner/pkg/engine"
	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/store"
)

type fakeClassifier struct {
	failItems map[string]bool
}

func (f *fakeClassifier) Classify(m catalog.Model, imagePath string, th engine.Thresholds) (*engine.Result, error) {
	for item := range f.failItems {
		if strings.Contains(imagePath, item) {
			return nil, &engine.InferenceError{Reason: "read image " + imagePath}
		}
	}
	return &engine.Result{General: []engine.Score{{Label: "sky", Confidence: 0.9}}}, nil
}

type fakeStatus struct {
	status store.Status
}

func (f *fakeStatus) Status(catalog.Model) store.Status { return f.status }

func collect(events *[]Event) EmitFunc {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func testRequest(ids ...string) Request {
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id, Ext: ".jpg"}
	}
	return Request{Model: catalog.Default().ID, Dir: "/images", Items: items}
}

func TestRunEmitsInOrder(t *testing.T) {
	o := NewOrchestrator(&fakeClassifier{}, &fakeStatus{status: store.StatusReady}, logging.Discard())

	var events []Event
	o.Run(context.Background(), testRequest("a", "b"), collect(&events))

	require.Len(t, events, 5)
	assert.Equal(t, Event{Type: EventProgress, Index: 0, Total: 2, Item: "a"}, events[0])
	assert.Equal(t, EventResult, events[1].Type)
	assert.Equal(t, "a", events[1].Item)
	assert.Equal(t, []string{"sky"}, events[1].Tags)
	assert.Equal(t, Event{Type: EventProgress, Index: 1, Total: 2, Item: "b"}, events[2])
	assert.Equal(t, "b", events[3].Item)
	assert.Equal(t, Event{Type: EventComplete, Total: 2}, events[4])
}

func TestRunIsolatesItemFailures(t *testing.T) {
	o := NewOrchestrator(
		&fakeClassifier{failItems: map[string]bool{"bad": true}},
		&fakeStatus{status: store.StatusReady},
		logging.Discard(),
	)

	var events []Event
	o.Run(context.Background(), testRequest("a", "bad", "c"), collect(&events))

	var results, itemErrors, completes int
	for _, ev := range events {
		switch ev.Type {
		case EventResult:
			results++
		case EventError:
			itemErrors++
			assert.Equal(t, "bad", ev.Item)
		case EventComplete:
			completes++
			assert.Equal(t, 3, ev.Total)
		}
	}
	assert.Equal(t, 2, results)
	assert.Equal(t, 1, itemErrors)
	assert.Equal(t, 1, completes)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
}

func TestRunModelNotReady(t *testing.T) {
	o := NewOrchestrator(&fakeClassifier{}, &fakeStatus{status: store.StatusNotInstalled}, logging.Discard())

	var events []Event
	o.Run(context.Background(), testRequest("a"), collect(&events))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Empty(t, events[0].Item, "setup failure is not item scoped")
}

func TestRunUnknownModel(t *testing.T) {
	o := NewOrchestrator(&fakeClassifier{}, &fakeStatus{status: store.StatusReady}, logging.Discard())

	var events []Event
	req := testRequest("a")
	req.Model = "no-such-model"
	o.Run(context.Background(), req, collect(&events))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
}

func TestRunEmptyBatch(t *testing.T) {
	o := NewOrchestrator(&fakeClassifier{}, &fakeStatus{status: store.StatusReady}, logging.Discard())

	var events []Event
	o.Run(context.Background(), testRequest(), collect(&events))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
}

func TestRunStopsWhenConsumerCloses(t *testing.T) {
	o := NewOrchestrator(&fakeClassifier{}, &fakeStatus{status: store.StatusReady}, logging.Discard())

	var events []Event
	emit := func(ev Event) error {
		if len(events) == 2 {
			return errors.New("stream closed")
		}
		events = append(events, ev)
		return nil
	}
	o.Run(context.Background(), testRequest("a", "b", "c"), emit)

	// Emission stopped quietly; no complete event was forced through.
	assert.Len(t, events, 2)
}

func TestRunChecksContextBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(&fakeClassifier{}, &fakeStatus{status: store.StatusReady}, logging.Discard())

	var events []Event
	emit := func(ev Event) error {
		events = append(events, ev)
		if ev.Type == EventResult && ev.Item == "a" {
			cancel()
		}
		return nil
	}
	o.Run(ctx, testRequest("a", "b", "c"), emit)

	// Item a finished, then the boundary check stopped the run.
	require.Len(t, events, 2)
	assert.Equal(t, EventResult, events[1].Type)
}
