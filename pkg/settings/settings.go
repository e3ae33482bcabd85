// Package settings loads persisted CLI preferences. Every field is
// optional; unknown or invalid values fall back to a documented default
// rather than failing the load.
package settings

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/lumeview/tagrunner/pkg/catalog"
	"github.com/lumeview/tagrunner/pkg/tagproc"
)

const (
	DefaultGeneralThreshold   = 0.35
	DefaultCharacterThreshold = 0.85
)

// Settings are the persisted user preferences.
type Settings struct {
	Model              string   `toml:"model"`
	GeneralThreshold   float32  `toml:"general_threshold"`
	CharacterThreshold float32  `toml:"character_threshold"`
	IncludeCharacter   bool     `toml:"include_character_tags"`
	IncludeRating      bool     `toml:"include_rating_tags"`
	ReplaceUnderscores bool     `toml:"replace_underscores"`
	ExcludeTags        []string `toml:"exclude_tags"`
	IncludeTags        []string `toml:"include_tags"`
	Order              string   `toml:"order"`
	Insert             string   `toml:"insert"`
}

// fileSettings mirrors Settings with pointer fields so that an absent
// key can be told apart from an explicit zero value.
type fileSettings struct {
	Model              *string  `toml:"model"`
	GeneralThreshold   *float32 `toml:"general_threshold"`
	CharacterThreshold *float32 `toml:"character_threshold"`
	IncludeCharacter   *bool    `toml:"include_character_tags"`
	IncludeRating      *bool    `toml:"include_rating_tags"`
	ReplaceUnderscores *bool    `toml:"replace_underscores"`
	ExcludeTags        []string `toml:"exclude_tags"`
	IncludeTags        []string `toml:"include_tags"`
	Order              *string  `toml:"order"`
	Insert             *string  `toml:"insert"`
}

// Defaults returns the settings used when no file exists.
func Defaults() Settings {
	return Settings{
		Model:              catalog.Default().ID,
		GeneralThreshold:   DefaultGeneralThreshold,
		CharacterThreshold: DefaultCharacterThreshold,
		ReplaceUnderscores: true,
		Order:              string(tagproc.OrderConfidence),
		Insert:             string(tagproc.InsertAppend),
	}
}

// DefaultPath returns the settings file location,
// ~/.config/tagrunner/settings.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tagrunner", "settings.toml")
}

// Load reads settings from path, falling back to Defaults for absent or
// invalid fields. A missing or unreadable file yields plain defaults; a
// load never fails.
func Load(path string) Settings {
	s := Defaults()
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var loaded fileSettings
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return s
	}

	if loaded.Model != nil {
		if _, err := catalog.Get(*loaded.Model); err == nil {
			s.Model = *loaded.Model
		}
	}
	if loaded.GeneralThreshold != nil && validThreshold(*loaded.GeneralThreshold) {
		s.GeneralThreshold = *loaded.GeneralThreshold
	}
	if loaded.CharacterThreshold != nil && validThreshold(*loaded.CharacterThreshold) {
		s.CharacterThreshold = *loaded.CharacterThreshold
	}
	if loaded.IncludeCharacter != nil {
		s.IncludeCharacter = *loaded.IncludeCharacter
	}
	if loaded.IncludeRating != nil {
		s.IncludeRating = *loaded.IncludeRating
	}
	if loaded.ReplaceUnderscores != nil {
		s.ReplaceUnderscores = *loaded.ReplaceUnderscores
	}
	if loaded.ExcludeTags != nil {
		s.ExcludeTags = loaded.ExcludeTags
	}
	if loaded.IncludeTags != nil {
		s.IncludeTags = loaded.IncludeTags
	}
	if loaded.Order != nil {
		switch tagproc.Order(*loaded.Order) {
		case tagproc.OrderConfidence, tagproc.OrderCategory:
			s.Order = *loaded.Order
		}
	}
	if loaded.Insert != nil {
		switch tagproc.Insert(*loaded.Insert) {
		case tagproc.InsertAppend, tagproc.InsertPrepend:
			s.Insert = *loaded.Insert
		}
	}

	return s
}

func validThreshold(v float32) bool {
	return v >= 0 && v <= 1
}

// Save writes s to path, creating parent directories as needed.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Options converts the settings to post-processor options.
func (s Settings) Options() tagproc.Options {
	return tagproc.Options{
		GeneralThreshold:   s.GeneralThreshold,
		CharacterThreshold: s.CharacterThreshold,
		IncludeCharacter:   s.IncludeCharacter,
		IncludeRating:      s.IncludeRating,
		ReplaceUnderscores: s.ReplaceUnderscores,
		ExcludeTags:        s.ExcludeTags,
		IncludeTags:        s.IncludeTags,
		Order:              tagproc.Order(s.Order),
		Insert:             tagproc.Insert(s.Insert),
	}
}
