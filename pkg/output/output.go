// Package output names, writes and validates capture artifacts on disk.
package output

import (
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
)

// Defaults applied when the output configuration leaves them empty
const (
	DefaultDir      = "captures"
	DefaultTimezone = "America/Chicago"
	DefaultPrefix   = "buoy"
	DefaultSuffix   = "BatonRouge"
	DefaultMinBytes = 10000
)

const timestampLayout = "20060102_150405"

// Artifacts describes the files written for one run
type Artifacts struct {
	PNGPath     string
	PDFPath     string // empty when no usable PDF could be produced
	PDFFallback bool
	Bytes       int64
	Checksum    string // sha256 of the PNG
	Warnings    []string
}

// Writer stores captures in the output directory
type Writer struct {
	cfg model.OutputConfig
	loc *time.Location
}

// NewWriter applies defaults to cfg and resolves its timezone
func NewWriter(cfg model.OutputConfig) (*Writer, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = DefaultMinBytes
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid output timezone %q: %w", cfg.Timezone, err)
	}
	return &Writer{cfg: cfg, loc: loc}, nil
}

// Dir returns the output directory
func (w *Writer) Dir() string {
	return w.cfg.Dir
}

// BaseName returns <prefix>_<YYYYmmdd_HHMMSS>_<suffix> for t in loc
func BaseName(prefix, suffix string, t time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s_%s_%s", prefix, t.In(loc).Format(timestampLayout), suffix)
}

// baseName uses the target's own prefix and suffix when set
func (w *Writer) baseName(target *model.Target, at time.Time) string {
	prefix, suffix := w.cfg.Prefix, w.cfg.Suffix
	if target.FilePrefix != "" {
		prefix = target.FilePrefix
	}
	if target.FileSuffix != "" {
		suffix = target.FileSuffix
	}
	return BaseName(prefix, suffix, at, w.loc)
}

// ExistsOK reports whether path is a regular file of at least minBytes
func ExistsOK(path string, minBytes int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() >= minBytes
}

// Save writes the PNG and PDF of a capture taken at the given time.
// An undersized PNG fails the save; an undersized or missing PDF only
// adds a warning and, when enabled, is rebuilt from the PNG.
func (w *Writer) Save(target *model.Target, at time.Time, png, pdf []byte) (*Artifacts, error) {
	if err := os.MkdirAll(w.cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	base := filepath.Join(w.cfg.Dir, w.baseName(target, at))
	a := &Artifacts{
		PNGPath:  base + ".png",
		Checksum: fmt.Sprintf("%x", sha256.Sum256(png)),
	}

	if err := os.WriteFile(a.PNGPath, png, 0644); err != nil {
		return nil, fmt.Errorf("failed to write PNG: %w", err)
	}
	if !ExistsOK(a.PNGPath, w.cfg.MinBytes) {
		return a, fmt.Errorf("PNG %s is smaller than %d bytes (%d bytes)", a.PNGPath, w.cfg.MinBytes, len(png))
	}
	a.Bytes = int64(len(png))
	log.Printf("[OUTPUT] Saved PNG: %s (%d bytes)", a.PNGPath, len(png))

	pdfPath := base + ".pdf"
	if len(pdf) > 0 {
		if err := os.WriteFile(pdfPath, pdf, 0644); err != nil {
			return a, fmt.Errorf("failed to write PDF: %w", err)
		}
	}
	if ExistsOK(pdfPath, w.cfg.MinBytes) {
		a.PDFPath = pdfPath
		a.Bytes += int64(len(pdf))
		log.Printf("[OUTPUT] Saved PDF: %s (%d bytes)", pdfPath, len(pdf))
		return a, nil
	}

	warning := fmt.Sprintf("PDF missing or smaller than %d bytes (%d bytes)", w.cfg.MinBytes, len(pdf))
	a.Warnings = append(a.Warnings, warning)
	log.Printf("WARNING: %s: %s", pdfPath, warning)

	if !w.cfg.PDFFallback {
		os.Remove(pdfPath)
		return a, nil
	}

	rebuilt, err := PDFFromPNG(png)
	if err != nil {
		a.Warnings = append(a.Warnings, fmt.Sprintf("fallback PDF failed: %v", err))
		log.Printf("WARNING: Failed to build fallback PDF: %v", err)
		os.Remove(pdfPath)
		return a, nil
	}
	if err := os.WriteFile(pdfPath, rebuilt, 0644); err != nil {
		return a, fmt.Errorf("failed to write fallback PDF: %w", err)
	}

	a.PDFPath = pdfPath
	a.PDFFallback = true
	a.Bytes += int64(len(rebuilt))
	log.Printf("[OUTPUT] Saved fallback PDF built from PNG: %s (%d bytes)", pdfPath, len(rebuilt))
	return a, nil
}

// Remove deletes artifact files, ignoring ones that are already gone
func Remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Printf("WARNING: Failed to remove artifact %s: %v", p, err)
		}
	}
}
