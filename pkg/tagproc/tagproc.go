// Package tagproc flattens a classification result into the final
// ordered tag list according to user options.
package tagproc

import (
	"math"
	"sort"
	"strings"

	"github.com/lumeview/tagrunner/pkg/engine"
)

// Order selects how the merged tag list is sorted.
type Order string

const (
	// OrderConfidence sorts all merged tags by descending confidence.
	OrderConfidence Order = "confidence"
	// OrderCategory keeps the engine's per-category emission order with
	// categories concatenated general, character, rating, includes.
	OrderCategory Order = "category"
)

// Insert selects where the caller places the produced tags relative to
// an asset's existing tag list. The processor itself does not insert;
// the value rides along for callers.
type Insert string

const (
	InsertAppend  Insert = "append"
	InsertPrepend Insert = "prepend"
)

// Options configures one processing run. Treated as immutable for the
// duration of a batch.
type Options struct {
	GeneralThreshold   float32  `json:"generalThreshold"`
	CharacterThreshold float32  `json:"characterThreshold"`
	IncludeCharacter   bool     `json:"includeCharacterTags"`
	IncludeRating      bool     `json:"includeRatingTags"`
	ReplaceUnderscores bool     `json:"replaceUnderscores"`
	IncludeTags        []string `json:"includeTags,omitempty"`
	ExcludeTags        []string `json:"excludeTags,omitempty"`
	Order              Order    `json:"order,omitempty"`
	Insert             Insert   `json:"insert,omitempty"`
}

// Thresholds adapts the options to the engine's extraction thresholds.
func (o Options) Thresholds() engine.Thresholds {
	return engine.Thresholds{General: o.GeneralThreshold, Character: o.CharacterThreshold}
}

// Process merges the per-category scores of res into a single ordered,
// deduplicated tag list. It is a pure function of its inputs: applying
// it twice to the same result and options yields identical output.
func Process(res *engine.Result, opts Options) []string {
	merged := make([]engine.Score, 0, len(res.General)+len(res.Character)+1+len(opts.IncludeTags))
	merged = append(merged, res.General...)
	if opts.IncludeCharacter {
		merged = append(merged, res.Character...)
	}
	if opts.IncludeRating && len(res.Rating) > 0 {
		merged = append(merged, res.Rating[0])
	}
	for _, t := range opts.IncludeTags {
		// Maximal confidence so forced tags survive any sort.
		merged = append(merged, engine.Score{Label: t, Confidence: math.MaxFloat32})
	}

	if opts.ReplaceUnderscores {
		for i := range merged {
			merged[i].Label = normalize(merged[i].Label)
		}
	}

	if len(opts.ExcludeTags) > 0 {
		excluded := make(map[string]struct{}, len(opts.ExcludeTags))
		for _, t := range opts.ExcludeTags {
			excluded[t] = struct{}{}
		}
		kept := merged[:0]
		for _, s := range merged {
			if _, ok := excluded[s.Label]; !ok {
				kept = append(kept, s)
			}
		}
		merged = kept
	}

	if opts.Order != OrderCategory {
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Confidence > merged[j].Confidence
		})
	}

	seen := make(map[string]struct{}, len(merged))
	tags := make([]string, 0, len(merged))
	for _, s := range merged {
		if _, ok := seen[s.Label]; ok {
			continue
		}
		seen[s.Label] = struct{}{}
		tags = append(tags, s.Label)
	}
	return tags
}

// Kaomoji labels used by WD tagger models; their underscores are part
// of the face and must not be replaced.
var kaomojis = map[string]struct{}{
	"0_0": {}, "(o)_(o)": {}, "+_+": {}, "+_-": {}, "._.": {}, "_": {}, "<|>_<|>": {},
	"=_=": {}, ">_<": {}, "3_3": {}, "6_9": {}, ">_o": {}, "@_@": {}, "^_^": {},
	"o_o": {}, "u_u": {}, "x_x": {}, "|_|": {}, "||_||": {},
}

func normalize(label string) string {
	if _, ok := kaomojis[label]; ok {
		return label
	}
	return strings.ReplaceAll(label, "_", " ")
}
