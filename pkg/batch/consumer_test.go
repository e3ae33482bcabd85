package batch

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/store"
)

func TestConsumerAccumulatesResults(t *testing.T) {
	stream := streamOf(t,
		Event{Type: EventProgress, Index: 0, Total: 2, Item: "a"},
		Event{Type: EventResult, Item: "a", Tags: []string{"sky"}},
		Event{Type: EventProgress, Index: 1, Total: 2, Item: "b"},
		Event{Type: EventResult, Item: "b", Tags: []string{"tree"}},
		Event{Type: EventComplete, Total: 2},
	)

	var seen []string
	c := NewConsumer(logging.Discard(), func(index, total int, item string) {
		seen = append(seen, item)
	})
	require.NoError(t, c.Feed(stream))

	s, err := c.Finalize(false)
	require.NoError(t, err)
	assert.True(t, s.Completed)
	assert.False(t, s.Cancelled)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, []string{"a", "b"}, seen)
	require.Len(t, s.Results, 2)
	assert.Equal(t, ItemResult{Item: "a", Tags: []string{"sky"}}, s.Results[0])
}

func TestConsumerItemErrorIsNotFatal(t *testing.T) {
	stream := streamOf(t,
		Event{Type: EventProgress, Index: 0, Total: 2, Item: "a"},
		Event{Type: EventError, Item: "a", Message: "decode failed"},
		Event{Type: EventProgress, Index: 1, Total: 2, Item: "b"},
		Event{Type: EventResult, Item: "b", Tags: []string{"tree"}},
		Event{Type: EventComplete, Total: 2},
	)

	c := NewConsumer(logging.Discard(), nil)
	require.NoError(t, c.Feed(stream))

	s, err := c.Finalize(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s.Failed)
	require.Len(t, s.Results, 1)
}

func TestConsumerTopLevelErrorIsFatal(t *testing.T) {
	stream := streamOf(t, Event{Type: EventError, Message: "model not installed"})

	c := NewConsumer(logging.Discard(), nil)
	err := c.Feed(stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not installed")

	_, err = c.Finalize(false)
	require.Error(t, err)
}

func TestConsumerCancellationKeepsPartialResults(t *testing.T) {
	// Three results arrive, then the consumer aborts the transport.
	stream := streamOf(t,
		Event{Type: EventResult, Item: "a", Tags: []string{"sky"}},
		Event{Type: EventResult, Item: "b", Tags: []string{"tree"}},
		Event{Type: EventResult, Item: "c", Tags: []string{"cloud"}},
	)

	c := NewConsumer(logging.Discard(), nil)
	require.NoError(t, c.Feed(stream))

	s, err := c.Finalize(true)
	require.NoError(t, err, "cancellation is not an error")
	assert.True(t, s.Cancelled)
	assert.False(t, s.Completed)
	assert.Len(t, s.Results, 3)
}

func TestConsumerNoResults(t *testing.T) {
	c := NewConsumer(logging.Discard(), nil)
	require.NoError(t, c.Feed(streamOf(t, Event{Type: EventProgress, Index: 0, Total: 1, Item: "a"})))

	_, err := c.Finalize(false)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestConsumerChunkBoundaryEquivalence(t *testing.T) {
	stream := streamOf(t,
		Event{Type: EventProgress, Index: 0, Total: 1, Item: "a"},
		Event{Type: EventResult, Item: "a", Tags: []string{"sky", "day"}},
		Event{Type: EventComplete, Total: 1},
	)

	whole := NewConsumer(logging.Discard(), nil)
	require.NoError(t, whole.Feed(stream))
	wholeSummary, err := whole.Finalize(false)
	require.NoError(t, err)

	split := NewConsumer(logging.Discard(), nil)
	for i := range stream {
		require.NoError(t, split.Feed(stream[i:i+1]))
	}
	splitSummary, err := split.Finalize(false)
	require.NoError(t, err)

	assert.Equal(t, wholeSummary, splitSummary)
}

func TestConsumerEndToEnd(t *testing.T) {
	// Orchestrator output piped straight into a consumer.
	var buf bytes.Buffer
	o := NewOrchestrator(
		&fakeClassifier{failItems: map[string]bool{"bad": true}},
		&fakeStatus{status: store.StatusReady},
		logging.Discard(),
	)
	o.Run(context.Background(), testRequest("a", "bad", "c"), Emitter(&buf))

	c := NewConsumer(logging.Discard(), nil)
	require.NoError(t, c.Feed(buf.Bytes()))

	s, err := c.Finalize(false)
	require.NoError(t, err)
	assert.True(t, s.Completed)
	assert.Equal(t, 3, s.Total)
	assert.Len(t, s.Results, 2)
	assert.Equal(t, []string{"bad"}, s.Failed)
}
