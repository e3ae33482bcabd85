package commands

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeview/tagrunner/pkg/batch"
	"github.com/lumeview/tagrunner/pkg/settings"
	"github.com/lumeview/tagrunner/pkg/tagproc"
)

func TestTagSaveSettingsPersistsOverrides(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "settings.toml")
	emptyDir := t.TempDir()

	c := newTagCmd(&opts{configPath: cfgPath})
	c.SetArgs([]string{emptyDir, "--save-settings", "--general-threshold", "0.5", "--character"})
	c.SetOut(io.Discard)
	c.SetErr(io.Discard)

	// The empty directory stops the run after settings are saved.
	err := c.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no images found")

	saved := settings.Load(cfgPath)
	assert.Equal(t, float32(0.5), saved.GeneralThreshold)
	assert.True(t, saved.IncludeCharacter)
	assert.Equal(t, settings.Defaults().Model, saved.Model)
}

func TestScanImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.PNG", "notes.txt", "c.webp", "d.avif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	items, err := scanImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []batch.Item{
		{ID: "a", Ext: ".PNG"},
		{ID: "b", Ext: ".jpg"},
		{ID: "c", Ext: ".webp"},
		{ID: "d", Ext: ".avif"},
	}, items)
}

func TestWriteSidecarNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.txt")
	require.NoError(t, writeSidecar(path, []string{"sky", "blue sky"}, tagproc.InsertAppend))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sky, blue sky\n", string(data))
}

func TestWriteSidecarAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.txt")
	require.NoError(t, os.WriteFile(path, []byte("existing, sky"), 0o644))

	require.NoError(t, writeSidecar(path, []string{"sky", "tree"}, tagproc.InsertAppend))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing, sky, tree\n", string(data))
}

func TestWriteSidecarPrepend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.txt")
	require.NoError(t, os.WriteFile(path, []byte("existing, sky"), 0o644))

	require.NoError(t, writeSidecar(path, []string{"sky", "tree"}, tagproc.InsertPrepend))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sky, tree, existing\n", string(data))
}
