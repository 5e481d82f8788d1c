package output

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisyPNG encodes an image that does not compress below a few KB
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.RGBA{uint8(seed >> 24), uint8(seed >> 16), uint8(seed >> 8), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBaseName(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 18, 30, 5, 0, time.UTC)
	assert.Equal(t, "buoy_20260301_123005_BatonRouge", BaseName("buoy", "BatonRouge", at, chicago))

	// after the DST switch the offset is five hours
	summer := time.Date(2026, 7, 1, 18, 30, 5, 0, time.UTC)
	assert.Equal(t, "buoy_20260701_133005_BatonRouge", BaseName("buoy", "BatonRouge", summer, chicago))
}

func TestNewWriterDefaults(t *testing.T) {
	w, err := NewWriter(model.OutputConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDir, w.Dir())
	assert.Equal(t, int64(DefaultMinBytes), w.cfg.MinBytes)
	assert.Equal(t, DefaultTimezone, w.loc.String())

	_, err = NewWriter(model.OutputConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestExistsOK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0644))

	assert.True(t, ExistsOK(path, 100))
	assert.False(t, ExistsOK(path, 101))
	assert.False(t, ExistsOK(filepath.Join(dir, "missing.png"), 0))
	assert.False(t, ExistsOK(dir, 0), "directories are not artifacts")
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(model.OutputConfig{Dir: dir, Timezone: "UTC", MinBytes: 1000})
	require.NoError(t, err)

	target := &model.Target{Name: "buoy", FileSuffix: "Mobile"}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pngData := noisyPNG(t, 40, 40)
	pdfData := append([]byte("%PDF-1.7\n"), make([]byte, 2000)...)

	a, err := w.Save(target, at, pngData, pdfData)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "buoy_20260301_090000_Mobile.png"), a.PNGPath)
	assert.Equal(t, filepath.Join(dir, "buoy_20260301_090000_Mobile.pdf"), a.PDFPath)
	assert.False(t, a.PDFFallback)
	assert.Empty(t, a.Warnings)
	assert.Equal(t, int64(len(pngData)+len(pdfData)), a.Bytes)
	assert.Len(t, a.Checksum, 64)
	assert.True(t, ExistsOK(a.PDFPath, 1000))
}

func TestSaveRejectsSmallPNG(t *testing.T) {
	w, err := NewWriter(model.OutputConfig{Dir: t.TempDir(), Timezone: "UTC"})
	require.NoError(t, err)

	_, err = w.Save(&model.Target{Name: "buoy"}, time.Now(), []byte("\x89PNG tiny"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smaller than 10000 bytes")
}

func TestSaveSmallPDF(t *testing.T) {
	pngData := noisyPNG(t, 300, 900)

	t.Run("warning only", func(t *testing.T) {
		dir := t.TempDir()
		w, err := NewWriter(model.OutputConfig{Dir: dir, Timezone: "UTC", MinBytes: 1000})
		require.NoError(t, err)

		a, err := w.Save(&model.Target{Name: "buoy"}, time.Now(), pngData, []byte("%PDF-"))
		require.NoError(t, err)
		assert.Empty(t, a.PDFPath)
		require.Len(t, a.Warnings, 1)
		assert.Contains(t, a.Warnings[0], "PDF missing or smaller")

		matches, _ := filepath.Glob(filepath.Join(dir, "*.pdf"))
		assert.Empty(t, matches, "undersized PDF is not left behind")
	})

	t.Run("rebuilt from PNG", func(t *testing.T) {
		w, err := NewWriter(model.OutputConfig{Dir: t.TempDir(), Timezone: "UTC", MinBytes: 1000, PDFFallback: true})
		require.NoError(t, err)

		a, err := w.Save(&model.Target{Name: "buoy"}, time.Now(), pngData, nil)
		require.NoError(t, err)
		assert.True(t, a.PDFFallback)
		require.NotEmpty(t, a.PDFPath)

		data, err := os.ReadFile(a.PDFPath)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	})
}

func TestPDFFromPNGPaginates(t *testing.T) {
	// 579mm printable width over 300px gives about 210px per page strip
	pdf, err := PDFFromPNG(noisyPNG(t, 300, 900))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
	pages := strings.Count(string(pdf), "/Type /Page") - strings.Count(string(pdf), "/Type /Pages")
	assert.Equal(t, 5, pages)

	_, err = PDFFromPNG([]byte("not a png"))
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	Remove(path, "", filepath.Join(dir, "gone.pdf"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
