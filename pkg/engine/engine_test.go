package engine

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeview/tagrunner/pkg/catalog"
	"github.com/lumeview/tagrunner/pkg/labels"
	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/store"
)

func testIndex() *labels.Index {
	return &labels.Index{
		Names:     []string{"general", "sensitive", "sky", "cloud", "tree", "hatsune_miku"},
		Rating:    []int{0, 1},
		General:   []int{2, 3, 4},
		Character: []int{5},
	}
}

func TestExtractThresholdInclusive(t *testing.T) {
	idx := testIndex()
	probs := []float32{0.1, 0.9, 0.9, 0.34, 0.35, 0.2}

	res := Extract(idx, probs, Thresholds{General: 0.35, Character: 0.85})

	// Confidence exactly at the threshold is kept; just below is not.
	require.Len(t, res.General, 2)
	assert.Equal(t, "sky", res.General[0].Label)
	assert.Equal(t, "tree", res.General[1].Label)
	assert.Empty(t, res.Character)
}

func TestExtractRatingKeepsAllSorted(t *testing.T) {
	idx := testIndex()
	probs := []float32{0.2, 0.7, 0, 0, 0, 0}

	res := Extract(idx, probs, Thresholds{})
	require.Len(t, res.Rating, 2)
	assert.Equal(t, "sensitive", res.Rating[0].Label)
	assert.Equal(t, "general", res.Rating[1].Label)
}

func TestExtractTieBreakByIndex(t *testing.T) {
	idx := testIndex()
	probs := []float32{0, 0, 0.5, 0.5, 0.5, 0}

	res := Extract(idx, probs, Thresholds{General: 0.5})
	require.Len(t, res.General, 3)
	// Equal confidences keep ascending label-index order.
	assert.Equal(t, "sky", res.General[0].Label)
	assert.Equal(t, "cloud", res.General[1].Label)
	assert.Equal(t, "tree", res.General[2].Label)
}

func TestPreprocessChannelOrder(t *testing.T) {
	// A solid pure-red image: every emitted pixel must be exactly
	// [B=0, G=0, R=255] in that order. Swapped channels would pass any
	// grayscale check, so a chromatic image is required here.
	const size = 4
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	buf := Preprocess(img, size)
	require.Len(t, buf, size*size*3)
	for i := 0; i < len(buf); i += 3 {
		assert.Equal(t, float32(0), buf[i], "blue at %d", i)
		assert.Equal(t, float32(0), buf[i+1], "green at %d", i)
		assert.Equal(t, float32(255), buf[i+2], "red at %d", i)
	}
}

func TestPreprocessPadsWithWhite(t *testing.T) {
	// A 2x4 black image scaled into an 8x8 canvas leaves white bands on
	// the left and right.
	img := image.NewRGBA(image.Rect(0, 0, 2, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}

	const size = 8
	buf := Preprocess(img, size)
	require.Len(t, buf, size*size*3)

	// Top-left corner is padding: uniform white.
	assert.Equal(t, float32(255), buf[0])
	assert.Equal(t, float32(255), buf[1])
	assert.Equal(t, float32(255), buf[2])

	// Center column holds the (black) image content.
	center := (size/2*size + size/2) * 3
	assert.Equal(t, float32(0), buf[center])
}

// fakeSession returns canned probabilities and records run counts.
type fakeSession struct {
	probs []float32
	err   error
	runs  int
}

func (f *fakeSession) run(input []float32) ([]float32, error) {
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return f.probs, nil
}

func (f *fakeSession) close() {}

func writeTestModel(t *testing.T, st *store.LocalStore, m catalog.Model) {
	t.Helper()
	require.NoError(t, os.MkdirAll(st.ModelDir(m), 0o755))
	csv := "tag_id,name,category,count\n" +
		"1,general,9,1\n" +
		"2,sensitive,9,1\n" +
		"3,sky,0,1\n" +
		"4,cloud,0,1\n" +
		"5,tree,0,1\n" +
		"6,hatsune_miku,4,1\n"
	require.NoError(t, os.WriteFile(st.FilePath(m, catalog.LabelFileName), []byte(csv), 0o644))
	require.NoError(t, os.WriteFile(st.FilePath(m, catalog.ModelFileName), []byte("fake"), 0o644))
}

func writeTestImage(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	path := filepath.Join(dir, "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestClassify(t *testing.T) {
	st := store.NewLocalStore(t.TempDir())
	m := catalog.Model{ID: "m1", Provider: "p", InputSize: 4, Files: []catalog.File{{Name: catalog.ModelFileName}, {Name: catalog.LabelFileName}}}
	writeTestModel(t, st, m)
	imgPath := writeTestImage(t, t.TempDir())

	fake := &fakeSession{probs: []float32{0.1, 0.9, 0.8, 0.2, 0.5, 0.95}}
	e := New(st, logging.Discard())
	e.newSession = func(string, catalog.Model, int) (session, error) { return fake, nil }

	res, err := e.Classify(m, imgPath, Thresholds{General: 0.35, Character: 0.85})
	require.NoError(t, err)

	require.Len(t, res.General, 2)
	assert.Equal(t, "sky", res.General[0].Label)
	assert.Equal(t, "tree", res.General[1].Label)
	require.Len(t, res.Character, 1)
	assert.Equal(t, "hatsune_miku", res.Character[0].Label)
	assert.Equal(t, "sensitive", res.Rating[0].Label)

	// Second call reuses the cached session.
	_, err = e.Classify(m, imgPath, Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.runs)
}

func TestClassifyFailureLeavesEngineUsable(t *testing.T) {
	st := store.NewLocalStore(t.TempDir())
	m := catalog.Model{ID: "m1", Provider: "p", InputSize: 4, Files: []catalog.File{{Name: catalog.ModelFileName}, {Name: catalog.LabelFileName}}}
	writeTestModel(t, st, m)
	imgPath := writeTestImage(t, t.TempDir())

	fake := &fakeSession{probs: []float32{0.1, 0.9, 0.8, 0.2, 0.5, 0.95}}
	e := New(st, logging.Discard())
	e.newSession = func(string, catalog.Model, int) (session, error) { return fake, nil }

	// Unreadable image: typed error, engine stays alive.
	_, err := e.Classify(m, filepath.Join(t.TempDir(), "missing.png"), Thresholds{})
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)

	// Forward-pass failure: same containment.
	fake.err = errors.New("ort exploded")
	_, err = e.Classify(m, imgPath, Thresholds{})
	require.ErrorAs(t, err, &infErr)

	fake.err = nil
	_, err = e.Classify(m, imgPath, Thresholds{})
	require.NoError(t, err, "engine must recover after a failed call")
}

func TestClassifyShapeMismatch(t *testing.T) {
	st := store.NewLocalStore(t.TempDir())
	m := catalog.Model{ID: "m1", Provider: "p", InputSize: 4, Files: []catalog.File{{Name: catalog.ModelFileName}, {Name: catalog.LabelFileName}}}
	writeTestModel(t, st, m)
	imgPath := writeTestImage(t, t.TempDir())

	e := New(st, logging.Discard())
	e.newSession = func(string, catalog.Model, int) (session, error) {
		return &fakeSession{probs: []float32{0.5}}, nil // 1 value for 6 labels
	}

	_, err := e.Classify(m, imgPath, Thresholds{})
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Contains(t, infErr.Reason, "6 labels")
}
