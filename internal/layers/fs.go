// Package layers persists pipeline output to the local filesystem as JSON,
// one file per (job, stream) per layer. Layout:
//
//	<root>/raw/<source>/<stream>/<job>.json
//	<root>/validated/<source>/<stream>/<job>.json
//	<root>/navigate/<source>/<stream>/<job>.json
package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/lineage"
)

// FSWriter writes raw and validated batches under a root directory.
type FSWriter struct {
	root string
}

// NewFSWriter creates a writer rooted at dir.
func NewFSWriter(dir string) *FSWriter {
	return &FSWriter{root: dir}
}

type validatedEnvelope struct {
	Records []domain.Record       `json:"records"`
	Quality *domain.QualityResult `json:"quality"`
}

// WriteRaw persists the batch verbatim.
func (w *FSWriter) WriteRaw(_ context.Context, jobID string, batch *domain.Batch) error {
	return w.write("raw", jobID, batch, batch.Records)
}

// WriteValidated persists the batch unchanged in content, tagged with its
// quality result.
func (w *FSWriter) WriteValidated(_ context.Context, jobID string, batch *domain.Batch, result *domain.QualityResult) error {
	return w.write("validated", jobID, batch, validatedEnvelope{
		Records: batch.Records,
		Quality: result,
	})
}

func (w *FSWriter) write(layer, jobID string, batch *domain.Batch, payload any) error {
	dir := filepath.Join(w.root, layer, batch.SourceID, batch.Stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s layer dir: %w", layer, err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s batch: %w", layer, err)
	}

	path := filepath.Join(dir, jobID+".json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write %s batch: %w", layer, err)
	}
	return nil
}

// FSAggregator writes a per-stream summary into the navigate layer and
// reports the dataset it produced.
type FSAggregator struct {
	root string
}

// NewFSAggregator creates an aggregator rooted at dir.
func NewFSAggregator(dir string) *FSAggregator {
	return &FSAggregator{root: dir}
}

type navigateSummary struct {
	SourceID  string `json:"source_id"`
	Stream    string `json:"stream"`
	Records   int    `json:"records"`
	MaxCursor string `json:"max_cursor,omitempty"`
}

// Aggregate writes the summary file for one validated batch.
func (a *FSAggregator) Aggregate(_ context.Context, jobID string, batch *domain.Batch) ([]string, error) {
	dir := filepath.Join(a.root, "navigate", batch.SourceID, batch.Stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create navigate layer dir: %w", err)
	}

	summary := navigateSummary{
		SourceID:  batch.SourceID,
		Stream:    batch.Stream,
		Records:   batch.Len(),
		MaxCursor: batch.MaxCursor,
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}

	path := filepath.Join(dir, jobID+".json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}

	return []string{lineage.Dataset("navigate", batch.SourceID, batch.Stream)}, nil
}
