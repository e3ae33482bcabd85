// Package batch runs a tagging pass over an ordered set of images and
// streams typed events to a consumer.
package batch

import (
	"github.com/lumeview/tagrunner/pkg/tagproc"
)

// EventType discriminates the records on a batch event stream.
type EventType string

const (
	// EventProgress announces that an item is about to be processed.
	EventProgress EventType = "progress"
	// EventResult carries the final tag list for one item.
	EventResult EventType = "result"
	// EventError reports a failure. With Item set it is scoped to that
	// item; without Item it is fatal to the whole run.
	EventError EventType = "error"
	// EventComplete is the last event of a successful run.
	EventComplete EventType = "complete"
)

// Event is one record on the stream. Fields beyond Type are populated
// per event type.
type Event struct {
	Type    EventType `json:"type"`
	Index   int       `json:"index,omitempty"`
	Total   int       `json:"total,omitempty"`
	Item    string    `json:"item,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Item identifies one image of a batch. The file lives at
// <request dir>/<ID><Ext>.
type Item struct {
	ID  string `json:"id"`
	Ext string `json:"ext"`
}

// Request describes one batch run. RunID is assigned by the caller and
// only used for log correlation.
type Request struct {
	RunID   string          `json:"runId,omitempty"`
	Model   string          `json:"model"`
	Dir     string          `json:"dir"`
	Items   []Item          `json:"items"`
	Options tagproc.Options `json:"options"`
}
