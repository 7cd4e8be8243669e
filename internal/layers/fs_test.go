package layers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

func testBatch() *domain.Batch {
	return &domain.Batch{
		SourceID:  "src-1",
		Stream:    "orders",
		Records:   []domain.Record{{"id": float64(1)}, {"id": float64(2)}},
		MaxCursor: "2",
	}
}

func TestWriteRaw(t *testing.T) {
	root := t.TempDir()
	writer := NewFSWriter(root)

	if err := writer.WriteRaw(context.Background(), "job-1", testBatch()); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "raw", "src-1", "orders", "job-1.json"))
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}

	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("decode raw file: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
	if records[0]["id"] != float64(1) {
		t.Errorf("first record = %v", records[0])
	}
}

func TestWriteValidatedCarriesQuality(t *testing.T) {
	root := t.TempDir()
	writer := NewFSWriter(root)

	result := &domain.QualityResult{OverallScore: 88.5}
	if err := writer.WriteValidated(context.Background(), "job-1", testBatch(), result); err != nil {
		t.Fatalf("WriteValidated: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "validated", "src-1", "orders", "job-1.json"))
	if err != nil {
		t.Fatalf("read validated file: %v", err)
	}

	var envelope struct {
		Records []domain.Record       `json:"records"`
		Quality *domain.QualityResult `json:"quality"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode validated file: %v", err)
	}
	if len(envelope.Records) != 2 {
		t.Errorf("records = %d, want 2", len(envelope.Records))
	}
	if envelope.Quality == nil || envelope.Quality.OverallScore != 88.5 {
		t.Errorf("quality = %+v", envelope.Quality)
	}
}

func TestAggregateWritesSummary(t *testing.T) {
	root := t.TempDir()
	agg := NewFSAggregator(root)

	outputs, err := agg.Aggregate(context.Background(), "job-1", testBatch())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(outputs) != 1 || outputs[0] != "navigate.src-1.orders" {
		t.Errorf("outputs = %v", outputs)
	}

	data, err := os.ReadFile(filepath.Join(root, "navigate", "src-1", "orders", "job-1.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}

	var summary struct {
		SourceID  string `json:"source_id"`
		Stream    string `json:"stream"`
		Records   int    `json:"records"`
		MaxCursor string `json:"max_cursor"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Records != 2 || summary.MaxCursor != "2" || summary.Stream != "orders" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestWriterIsolatesJobs(t *testing.T) {
	root := t.TempDir()
	writer := NewFSWriter(root)

	if err := writer.WriteRaw(context.Background(), "job-1", testBatch()); err != nil {
		t.Fatalf("WriteRaw job-1: %v", err)
	}
	if err := writer.WriteRaw(context.Background(), "job-2", testBatch()); err != nil {
		t.Fatalf("WriteRaw job-2: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "raw", "src-1", "orders"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("files = %d, want 2", len(entries))
	}
}
