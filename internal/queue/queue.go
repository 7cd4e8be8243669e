// Package queue provides the bounded job queue feeding the executor's worker
// pool. Jobs past the concurrency bound wait here in pending status.
package queue

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Queue is a typed buffered channel with enqueue timeout and depth stats.
type Queue[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger
	stats   stats
}

type stats struct {
	enqueued     atomic.Int64
	dequeued     atomic.Int64
	timeouts     atomic.Int64
	maxDepthSeen atomic.Int64
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Enqueued     int64
	Dequeued     int64
	Timeouts     int64
	CurrentDepth int
	MaxDepthSeen int64
}

// New creates a queue with the given capacity and enqueue timeout.
func New[T any](capacity int, timeout time.Duration, logger *slog.Logger) *Queue[T] {
	return &Queue[T]{
		ch:      make(chan T, capacity),
		timeout: timeout,
		logger:  logger,
	}
}

// Enqueue adds an item, waiting up to the configured timeout for space.
// It returns false when the queue stayed full for the whole timeout.
func (q *Queue[T]) Enqueue(item T) bool {
	select {
	case q.ch <- item:
		q.stats.enqueued.Add(1)
		q.recordDepth()
		return true
	case <-time.After(q.timeout):
		q.stats.timeouts.Add(1)
		q.logger.Warn("queue enqueue timeout",
			"timeout", q.timeout,
			"depth", len(q.ch))
		return false
	}
}

// Chan exposes the receive side for worker range loops. Workers observe the
// channel closing as the drain signal.
func (q *Queue[T]) Chan() <-chan T {
	return q.ch
}

// MarkDequeued records that a worker took an item off the queue.
func (q *Queue[T]) MarkDequeued() {
	q.stats.dequeued.Add(1)
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Stats returns a snapshot of queue statistics.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Enqueued:     q.stats.enqueued.Load(),
		Dequeued:     q.stats.dequeued.Load(),
		Timeouts:     q.stats.timeouts.Load(),
		CurrentDepth: len(q.ch),
		MaxDepthSeen: q.stats.maxDepthSeen.Load(),
	}
}

// Close closes the queue. Enqueue must not be called after Close.
func (q *Queue[T]) Close() {
	close(q.ch)
}

func (q *Queue[T]) recordDepth() {
	depth := int64(len(q.ch))
	for {
		seen := q.stats.maxDepthSeen.Load()
		if depth <= seen || q.stats.maxDepthSeen.CompareAndSwap(seen, depth) {
			return
		}
	}
}
