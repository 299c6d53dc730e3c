package internal

import (
	"fmt"
	"sync"
)

// AnomalyLog collects counted data-quality warnings from a single sync run.
// Recording never fails and never aborts the pipeline; the stored list is
// bounded, the counters are not.
type AnomalyLog struct {
	mu     sync.Mutex
	limit  int
	items  []Anomaly
	counts map[AnomalyKind]int
}

func NewAnomalyLog(limit int) *AnomalyLog {
	if limit <= 0 {
		limit = 100
	}
	return &AnomalyLog{limit: limit, counts: map[AnomalyKind]int{}}
}

func (l *AnomalyLog) Record(kind AnomalyKind, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[kind]++
	if len(l.items) < l.limit {
		l.items = append(l.items, Anomaly{Kind: kind, Detail: fmt.Sprintf(format, args...)})
	}
}

func (l *AnomalyLog) Items() []Anomaly {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Anomaly, len(l.items))
	copy(out, l.items)
	return out
}

func (l *AnomalyLog) Count(kind AnomalyKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[kind]
}

func (l *AnomalyLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}
