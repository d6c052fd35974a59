package memory

import (
	"context"
	"sync"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

// Ledger records run statuses in memory. It implements pipeline.Ledger.
type Ledger struct {
	mu   sync.RWMutex
	runs map[domain.PartitionKey]domain.RunStatus
}

func NewLedger() *Ledger {
	return &Ledger{runs: map[domain.PartitionKey]domain.RunStatus{}}
}

func (l *Ledger) Lookup(_ context.Context, key domain.PartitionKey) (domain.RunStatus, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.runs[key]
	return s, ok, nil
}

// Record stores status unless the key has already succeeded.
func (l *Ledger) Record(_ context.Context, status domain.RunStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.runs[status.Key]; ok && prev.Succeeded() {
		return nil
	}
	l.runs[status.Key] = status
	return nil
}
