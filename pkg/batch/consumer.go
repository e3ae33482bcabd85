package batch

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/lumeview/tagrunner/pkg/logging"
)

// ErrNoResults is returned by Finalize when the stream ended without a
// complete event and no results were accumulated.
var ErrNoResults = errors.New("no results received")

// ItemResult is one item's accumulated outcome.
type ItemResult struct {
	Item string
	Tags []string
}

// Summary is the end-of-run report.
type Summary struct {
	Results   []ItemResult
	Failed    []string
	Total     int
	Completed bool
	Cancelled bool
}

// ProgressFunc observes per-item progress while consuming a stream.
type ProgressFunc func(index, total int, item string)

// Consumer applies a batch event stream to caller-visible state. Feed
// it raw transport chunks; call Finalize once the stream has ended or
// been aborted.
type Consumer struct {
	dec        *Decoder
	log        logging.Logger
	onProgress ProgressFunc

	results  []ItemResult
	failed   []string
	total    int
	complete bool
	fatal    error
}

func NewConsumer(log logging.Logger, onProgress ProgressFunc) *Consumer {
	return &Consumer{dec: NewDecoder(log), log: log, onProgress: onProgress}
}

// Feed consumes one transport chunk. A non-nil error reports a
// top-level stream error and means consumption should stop; item
// scoped errors are recorded and consumption continues.
func (c *Consumer) Feed(chunk []byte) error {
	for _, ev := range c.dec.Feed(chunk) {
		if err := c.apply(ev); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) apply(ev Event) error {
	switch ev.Type {
	case EventProgress:
		c.total = ev.Total
		if c.onProgress != nil {
			c.onProgress(ev.Index, ev.Total, ev.Item)
		}
	case EventResult:
		c.results = append(c.results, ItemResult{Item: ev.Item, Tags: ev.Tags})
	case EventError:
		if ev.Item == "" {
			c.fatal = fmt.Errorf("batch failed: %s", ev.Message)
			return c.fatal
		}
		c.log.Warnf("item %s failed: %s", ev.Item, ev.Message)
		c.failed = append(c.failed, ev.Item)
	case EventComplete:
		c.total = ev.Total
		c.complete = true
	default:
		c.log.Warnf("skipping event of unknown type %q", ev.Type)
	}
	return nil
}

// Finalize closes out the run. cancelled marks a consumer-side abort:
// whatever results were accumulated are kept and the run is reported
// as stopped early, never as an error. A stream that ended on its own
// with no complete event and no results yields ErrNoResults.
func (c *Consumer) Finalize(cancelled bool) (*Summary, error) {
	if c.fatal != nil {
		return nil, c.fatal
	}
	s := &Summary{
		Results:   c.results,
		Failed:    c.failed,
		Total:     c.total,
		Completed: c.complete,
		Cancelled: cancelled,
	}
	if cancelled {
		return s, nil
	}
	if !c.complete && len(c.results) == 0 {
		return nil, ErrNoResults
	}
	return s, nil
}
