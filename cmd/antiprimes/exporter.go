package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/antiprimes"
)

// Snapshot is the exported form of a sequence.
type Snapshot struct {
	GeneratedAt time.Time              `json:"generated_at" yaml:"generated_at"`
	Epoch       uint64                 `json:"epoch" yaml:"epoch"`
	Length      int                    `json:"length" yaml:"length"`
	Items       []antiprimes.AntiPrime `json:"items" yaml:"items"`
}

// Exporter writes sequence snapshots to disk as JSON or YAML.
//
// The format follows the file extension: .json, .yaml or .yml.
type Exporter struct {
	path   string
	format string
}

// NewExporter validates the output path and creates its directory.
func NewExporter(path string) (*Exporter, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return nil, fmt.Errorf("unsupported output format: %q (must be .json, .yaml or .yml)", filepath.Ext(path))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	return &Exporter{path: path, format: format}, nil
}

// Export writes the full contents of seq.
func (e *Exporter) Export(seq antiprimes.Sequence) error {
	items, err := seq.LastK(seq.Len())
	if err != nil {
		return err
	}

	snap := Snapshot{
		GeneratedAt: time.Now().UTC(),
		Epoch:       seq.Epoch(),
		Length:      len(items),
		Items:       items,
	}

	var data []byte
	switch e.format {
	case "json":
		data, err = json.MarshalIndent(snap, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(snap)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.format, err)
	}

	if err := os.WriteFile(e.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
