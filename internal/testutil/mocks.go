// Package testutil provides the mock collaborators shared by tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/lineage"
)

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockClock provides controllable time for testing
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// FetchResponse is one scripted reply from a MockConnector.
type FetchResponse struct {
	Batch *domain.Batch
	Err   error
}

// MockConnector replays scripted batches and errors per stream. Each
// FetchBatch call consumes the next response for its stream; when the script
// runs out, the last response repeats.
type MockConnector struct {
	mu          sync.Mutex
	responses   map[string][]FetchResponse
	streams     []string
	discoverErr error
	fetchDelay  time.Duration
	fetchCalls  map[string]int
	seenCursors map[string][]string
	ordering    domain.CursorOrdering
}

func NewMockConnector(streams ...string) *MockConnector {
	return &MockConnector{
		responses:   make(map[string][]FetchResponse),
		streams:     streams,
		fetchCalls:  make(map[string]int),
		seenCursors: make(map[string][]string),
	}
}

// Script appends responses for a stream in the order FetchBatch will see them.
func (m *MockConnector) Script(stream string, responses ...FetchResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[stream] = append(m.responses[stream], responses...)
}

// ScriptBatch is shorthand for a single successful batch built from records.
func (m *MockConnector) ScriptBatch(stream, maxCursor string, records int) {
	batch := &domain.Batch{MaxCursor: maxCursor}
	for i := 0; i < records; i++ {
		batch.Records = append(batch.Records, domain.Record{"n": i})
	}
	m.Script(stream, FetchResponse{Batch: batch})
}

func (m *MockConnector) SetDiscoverError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverErr = err
}

func (m *MockConnector) SetFetchDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchDelay = d
}

func (m *MockConnector) SetOrdering(ordering domain.CursorOrdering) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordering = ordering
}

// FetchCalls returns how many times a stream was fetched.
func (m *MockConnector) FetchCalls(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[stream]
}

// SeenCursors returns the cursor argument of every fetch for a stream.
func (m *MockConnector) SeenCursors(stream string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.seenCursors[stream]))
	copy(result, m.seenCursors[stream])
	return result
}

func (m *MockConnector) FetchBatch(ctx context.Context, stream, cursor string) (*domain.Batch, error) {
	m.mu.Lock()
	m.fetchCalls[stream]++
	m.seenCursors[stream] = append(m.seenCursors[stream], cursor)
	script := m.responses[stream]
	call := m.fetchCalls[stream]
	delay := m.fetchDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, domain.TransientError(ctx.Err())
		}
	}

	if len(script) == 0 {
		return nil, domain.PermanentError(fmt.Errorf("no scripted response for stream %q", stream))
	}

	idx := call - 1
	if idx >= len(script) {
		idx = len(script) - 1
	}
	response := script[idx]
	return response.Batch, response.Err
}

func (m *MockConnector) DiscoverStreams(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	return m.streams, nil
}

func (m *MockConnector) Ordering() domain.CursorOrdering {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ordering != nil {
		return m.ordering
	}
	return domain.DefaultOrdering
}

// MockQualityEngine returns a fixed score per stream, falling back to a
// default score for unscripted streams.
type MockQualityEngine struct {
	mu           sync.Mutex
	defaultScore float64
	scores       map[string]float64
	findings     map[string][]domain.PIIFinding
	err          error
}

func NewMockQualityEngine(defaultScore float64) *MockQualityEngine {
	return &MockQualityEngine{
		defaultScore: defaultScore,
		scores:       make(map[string]float64),
		findings:     make(map[string][]domain.PIIFinding),
	}
}

func (m *MockQualityEngine) SetScore(stream string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[stream] = score
}

func (m *MockQualityEngine) SetFindings(stream string, findings ...domain.PIIFinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings[stream] = findings
}

func (m *MockQualityEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockQualityEngine) Assess(ctx context.Context, batch *domain.Batch) (*domain.QualityResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	score := m.defaultScore
	if s, ok := m.scores[batch.Stream]; ok {
		score = s
	}
	return &domain.QualityResult{
		OverallScore: score,
		PIIFindings:  m.findings[batch.Stream],
	}, nil
}

// LayerWrite records one write seen by the MockLayerWriter.
type LayerWrite struct {
	JobID   string
	Stream  string
	Records int
}

// MockLayerWriter records raw and validated writes.
type MockLayerWriter struct {
	mu           sync.Mutex
	raw          []LayerWrite
	validated    []LayerWrite
	rawErr       error
	validatedErr error
}

func NewMockLayerWriter() *MockLayerWriter {
	return &MockLayerWriter{}
}

func (m *MockLayerWriter) SetRawError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawErr = err
}

func (m *MockLayerWriter) SetValidatedError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validatedErr = err
}

func (m *MockLayerWriter) WriteRaw(ctx context.Context, jobID string, batch *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rawErr != nil {
		return m.rawErr
	}
	m.raw = append(m.raw, LayerWrite{JobID: jobID, Stream: batch.Stream, Records: batch.Len()})
	return nil
}

func (m *MockLayerWriter) WriteValidated(ctx context.Context, jobID string, batch *domain.Batch, result *domain.QualityResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validatedErr != nil {
		return m.validatedErr
	}
	m.validated = append(m.validated, LayerWrite{JobID: jobID, Stream: batch.Stream, Records: batch.Len()})
	return nil
}

func (m *MockLayerWriter) RawWrites() []LayerWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]LayerWrite, len(m.raw))
	copy(result, m.raw)
	return result
}

func (m *MockLayerWriter) ValidatedWrites() []LayerWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]LayerWrite, len(m.validated))
	copy(result, m.validated)
	return result
}

// MockAggregator records aggregate calls and returns scripted outputs.
type MockAggregator struct {
	mu      sync.Mutex
	outputs map[string][]string
	err     error
	calls   []string
}

func NewMockAggregator() *MockAggregator {
	return &MockAggregator{outputs: make(map[string][]string)}
}

func (m *MockAggregator) SetOutputs(stream string, outputs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[stream] = outputs
}

func (m *MockAggregator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockAggregator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.calls))
	copy(result, m.calls)
	return result
}

func (m *MockAggregator) Aggregate(ctx context.Context, jobID string, batch *domain.Batch) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, batch.Stream)
	if m.err != nil {
		return nil, m.err
	}
	return m.outputs[batch.Stream], nil
}

// RecordingTracker captures lineage events in order.
type RecordingTracker struct {
	mu     sync.Mutex
	events []lineage.Event
}

func NewRecordingTracker() *RecordingTracker {
	return &RecordingTracker{}
}

func (t *RecordingTracker) Emit(ctx context.Context, event lineage.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	return nil
}

func (t *RecordingTracker) Events() []lineage.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]lineage.Event, len(t.events))
	copy(result, t.events)
	return result
}

// EventsOfType filters captured events by type.
func (t *RecordingTracker) EventsOfType(eventType lineage.EventType) []lineage.Event {
	var result []lineage.Event
	for _, event := range t.Events() {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}
