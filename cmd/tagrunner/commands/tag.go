package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lumeview/tagrunner/pkg/batch"
	"github.com/lumeview/tagrunner/pkg/client"
	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/settings"
	"github.com/lumeview/tagrunner/pkg/tagproc"
)

// imageExtensions are the file types included when scanning a
// directory for batch input.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".avif": true,
}

func newTagCmd(o *opts) *cobra.Command {
	var (
		model            string
		generalThreshold float32
		charThreshold    float32
		includeCharacter bool
		includeRating    bool
		keepUnderscores  bool
		excludeTags      []string
		includeTags      []string
		insertMode       string
		saveSettings     bool
	)

	c := &cobra.Command{
		Use:   "tag DIR",
		Short: "Tag every image in a directory, writing .txt sidecar files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			cfg := settings.Load(settingsPath(o))
			applyFlagOverrides(cmd, &cfg, model, generalThreshold, charThreshold,
				includeCharacter, includeRating, keepUnderscores, excludeTags, includeTags, insertMode)
			if saveSettings {
				if err := settings.Save(settingsPath(o), cfg); err != nil {
					return fmt.Errorf("failed to save settings: %w", err)
				}
			}

			items, err := scanImages(dir)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("no images found in %s", dir)
			}

			req := batch.Request{
				RunID:   uuid.NewString(),
				Model:   cfg.Model,
				Dir:     dir,
				Items:   items,
				Options: cfg.Options(),
			}
			return runBatch(cmd, o.client(), req, tagproc.Insert(cfg.Insert))
		},
	}

	c.Flags().StringVarP(&model, "model", "m", "", "Model to classify with (default from settings)")
	c.Flags().Float32Var(&generalThreshold, "general-threshold", 0, "Minimum confidence for general tags")
	c.Flags().Float32Var(&charThreshold, "character-threshold", 0, "Minimum confidence for character tags")
	c.Flags().BoolVar(&includeCharacter, "character", false, "Include character tags")
	c.Flags().BoolVar(&includeRating, "rating", false, "Include the top rating tag")
	c.Flags().BoolVar(&keepUnderscores, "keep-underscores", false, "Do not replace underscores with spaces")
	c.Flags().StringSliceVar(&excludeTags, "exclude", nil, "Tags to always drop")
	c.Flags().StringSliceVar(&includeTags, "include", nil, "Tags to always add")
	c.Flags().StringVar(&insertMode, "insert", "", "Where to place new tags relative to existing sidecar tags (prepend|append)")
	c.Flags().BoolVar(&saveSettings, "save-settings", false, "Persist the effective options as the new defaults")
	return c
}

func settingsPath(o *opts) string {
	if o.configPath != "" {
		return o.configPath
	}
	return settings.DefaultPath()
}

// applyFlagOverrides folds explicitly set flags onto the loaded
// settings. Unset flags leave the persisted values alone.
func applyFlagOverrides(cmd *cobra.Command, cfg *settings.Settings, model string,
	generalThreshold, charThreshold float32, includeCharacter, includeRating, keepUnderscores bool,
	excludeTags, includeTags []string, insertMode string) {
	if cmd.Flags().Changed("model") {
		cfg.Model = model
	}
	if cmd.Flags().Changed("general-threshold") {
		cfg.GeneralThreshold = generalThreshold
	}
	if cmd.Flags().Changed("character-threshold") {
		cfg.CharacterThreshold = charThreshold
	}
	if cmd.Flags().Changed("character") {
		cfg.IncludeCharacter = includeCharacter
	}
	if cmd.Flags().Changed("rating") {
		cfg.IncludeRating = includeRating
	}
	if cmd.Flags().Changed("keep-underscores") {
		cfg.ReplaceUnderscores = !keepUnderscores
	}
	if cmd.Flags().Changed("exclude") {
		cfg.ExcludeTags = excludeTags
	}
	if cmd.Flags().Changed("include") {
		cfg.IncludeTags = includeTags
	}
	if cmd.Flags().Changed("insert") {
		switch tagproc.Insert(insertMode) {
		case tagproc.InsertAppend, tagproc.InsertPrepend:
			cfg.Insert = insertMode
		}
	}
}

// scanImages lists the directory's image files as batch items, sorted
// by name for deterministic processing order.
func scanImages(dir string) ([]batch.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var items []batch.Item
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !imageExtensions[ext] {
			continue
		}
		items = append(items, batch.Item{
			ID:  strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Ext: filepath.Ext(e.Name()),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func runBatch(cmd *cobra.Command, cl *client.Client, req batch.Request, insert tagproc.Insert) error {
	body, cancel, err := cl.Batch(cmd.Context(), req)
	if err != nil {
		return handleClientError(err, "Failed to start batch")
	}
	defer cancel()

	// Ctrl-C aborts the transport; results collected so far are still
	// written out below.
	var cancelled atomic.Bool
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; ok {
			cancelled.Store(true)
			cancel()
		}
	}()

	log := logging.NewLogger(cmd.ErrOrStderr(), "tag")
	consumer := batch.NewConsumer(log, func(index, total int, item string) {
		cmd.Printf("[%d/%d] %s\n", index+1, total, item)
	})

	var fatal error
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if feedErr := consumer.Feed(buf[:n]); feedErr != nil {
				fatal = feedErr
				break
			}
		}
		if err != nil {
			if err != io.EOF && !cancelled.Load() {
				log.Warnf("stream ended early: %v", err)
			}
			break
		}
	}
	signal.Stop(sigs)
	close(sigs)

	if fatal != nil {
		return fatal
	}

	summary, err := consumer.Finalize(cancelled.Load())
	if err != nil {
		return err
	}

	written := 0
	for _, res := range summary.Results {
		path := filepath.Join(req.Dir, res.Item+".txt")
		if err := writeSidecar(path, res.Tags, insert); err != nil {
			log.Warnf("failed to write %s: %v", path, err)
			continue
		}
		written++
	}

	if summary.Cancelled {
		cmd.Printf("Cancelled: tagged %d of %d images before stopping\n", written, summary.Total)
		return nil
	}
	cmd.Printf("Tagged %d of %d images", written, summary.Total)
	if len(summary.Failed) > 0 {
		cmd.Printf(" (%d failed)", len(summary.Failed))
	}
	cmd.Println()
	return nil
}

// writeSidecar merges tags into the image's sidecar tag file. New tags
// go before or after any existing tags per the insert mode; duplicates
// keep their first position.
func writeSidecar(path string, tags []string, insert tagproc.Insert) error {
	var existing []string
	if data, err := os.ReadFile(path); err == nil {
		for _, t := range strings.Split(string(data), ",") {
			if t = strings.TrimSpace(t); t != "" {
				existing = append(existing, t)
			}
		}
	}

	var merged []string
	if insert == tagproc.InsertPrepend {
		merged = append(merged, tags...)
		merged = append(merged, existing...)
	} else {
		merged = append(merged, existing...)
		merged = append(merged, tags...)
	}

	seen := make(map[string]struct{}, len(merged))
	out := merged[:0]
	for _, t := range merged {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	return os.WriteFile(path, []byte(strings.Join(out, ", ")+"\n"), 0o644)
}
