// Package catalog holds the static registry of tagger model variants
// known to tagrunner. The registry is compiled in and never mutated at
// runtime; install state is derived separately by the model store.
package catalog

import (
	"errors"
	"fmt"
)

// ErrModelNotFound indicates that a model id is not present in the
// registry.
var ErrModelNotFound = errors.New("model not found in catalog")

// File is one entry of a model's file manifest. Size is the expected
// byte size of the fully downloaded file; a Size of 0 means the size is
// not known and cannot be used to detect an already-complete local
// copy. Digest, when non-empty, is the hex-encoded sha256 of the file
// contents and enables content verification of accepted files.
type File struct {
	Name   string
	Size   int64
	Digest string
}

// Model describes one installable tagger variant.
type Model struct {
	// ID is the stable identifier used in API routes and on disk.
	ID string
	// DisplayName is the human-readable name.
	DisplayName string
	// Provider is the id of the owning provider.
	Provider string
	// Repo is the remote source repository (a Hugging Face repo id).
	Repo string
	// Files is the ordered file manifest constituting the model.
	Files []File
	// Default marks the provider's default variant.
	Default bool
	// InputSize is the square edge length of the classifier input.
	InputSize int
}

// TotalSize returns the sum of the declared manifest sizes. Files with
// unknown size contribute zero.
func (m Model) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

const (
	// ModelFileName is the classifier network file present in every
	// manifest.
	ModelFileName = "model.onnx"
	// LabelFileName is the label manifest present in every manifest.
	LabelFileName = "selected_tags.csv"

	wdProvider = "smilingwolf"
	wdInput    = 448
)

// registry is ordered; ordering is surfaced as-is by Models.
var registry = []Model{
	{
		ID:          "wd-swinv2-tagger-v3",
		DisplayName: "WD SwinV2 Tagger v3",
		Provider:    wdProvider,
		Repo:        "SmilingWolf/wd-swinv2-tagger-v3",
		Default:     true,
		InputSize:   wdInput,
		Files: []File{
			{Name: ModelFileName, Size: 455022742},
			{Name: LabelFileName, Size: 0},
		},
	},
	{
		ID:          "wd-vit-tagger-v3",
		DisplayName: "WD ViT Tagger v3",
		Provider:    wdProvider,
		Repo:        "SmilingWolf/wd-vit-tagger-v3",
		InputSize:   wdInput,
		Files: []File{
			{Name: ModelFileName, Size: 386992793},
			{Name: LabelFileName, Size: 0},
		},
	},
	{
		ID:          "wd-convnext-tagger-v3",
		DisplayName: "WD ConvNext Tagger v3",
		Provider:    wdProvider,
		Repo:        "SmilingWolf/wd-convnext-tagger-v3",
		InputSize:   wdInput,
		Files: []File{
			{Name: ModelFileName, Size: 394716316},
			{Name: LabelFileName, Size: 0},
		},
	},
}

// Models returns every registered model in registry order.
func Models() []Model {
	out := make([]Model, len(registry))
	copy(out, registry)
	return out
}

// Get looks up a model by id.
func Get(id string) (Model, error) {
	for _, m := range registry {
		if m.ID == id {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %q", ErrModelNotFound, id)
}

// Default returns the registry's default model.
func Default() Model {
	for _, m := range registry {
		if m.Default {
			return m
		}
	}
	return registry[0]
}
