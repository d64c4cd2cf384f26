package memory

import (
	"context"
	"sync"

	"quiz-live-service/internal/domain"
)

// StatsSink keeps finished game summaries in memory.
type StatsSink struct {
	mu        sync.Mutex
	summaries []domain.GameSummary
	notify    chan domain.GameSummary
}

func NewStatsSink() *StatsSink {
	return &StatsSink{notify: make(chan domain.GameSummary, 16)}
}

func (s *StatsSink) RecordGame(_ context.Context, summary domain.GameSummary) error {
	s.mu.Lock()
	s.summaries = append(s.summaries, summary)
	s.mu.Unlock()
	select {
	case s.notify <- summary:
	default:
	}
	return nil
}

// Recorded delivers each summary as it arrives.
func (s *StatsSink) Recorded() <-chan domain.GameSummary { return s.notify }

func (s *StatsSink) Summaries() []domain.GameSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.GameSummary, len(s.summaries))
	copy(out, s.summaries)
	return out
}
