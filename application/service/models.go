package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/tracker"
)

// ModelLedger records content-model incompatibilities. Each model name
// is logged once and surfaced through summary reports; an incompatible
// model never aborts indexing of unrelated content.
type ModelLedger struct {
	mu      sync.Mutex
	reasons map[string]string
	logger  *slog.Logger
}

// NewModelLedger creates an empty ModelLedger.
func NewModelLedger(logger *slog.Logger) *ModelLedger {
	return &ModelLedger{reasons: map[string]string{}, logger: logger}
}

// RecordIncompatibility notes that a model cannot be applied. Repeat
// reports for the same model are absorbed silently.
func (l *ModelLedger) RecordIncompatibility(model, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.reasons[model]; seen {
		return
	}
	l.reasons[model] = reason
	l.logger.Warn("incompatible content model",
		slog.String("model", model),
		slog.String("reason", reason))
}

// Incompatibilities returns the recorded model incompatibilities.
func (l *ModelLedger) Incompatibilities() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make(map[string]string, len(l.reasons))
	for k, v := range l.reasons {
		cp[k] = v
	}
	return cp
}

// ModelMonitor polls the repository's content-model diffs and feeds the
// incompatibility ledger. It remembers the checksum each model carried
// when its documents were projected, so every poll tells the repository
// exactly what the index was built against.
type ModelMonitor struct {
	core   string
	client repo.Client
	ledger *ModelLedger
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]int64
}

// NewModelMonitor creates a ModelMonitor.
func NewModelMonitor(core string, client repo.Client, ledger *ModelLedger, logger *slog.Logger) *ModelMonitor {
	return &ModelMonitor{
		core:   core,
		client: client,
		ledger: ledger,
		logger: logger,
		known:  map[string]int64{},
	}
}

// Kind returns the tracker kind for scheduling.
func (m *ModelMonitor) Kind() tracker.Kind { return tracker.KindModel }

// RunOnce fetches one round of model diffs. An incompatible change or a
// withdrawn model lands in the ledger; the known checksum then stays at
// the value the indexed documents were built with.
func (m *ModelMonitor) RunOnce(ctx context.Context) error {
	m.mu.Lock()
	snaps := make([]repo.ModelSnapshot, 0, len(m.known))
	for name, sum := range m.known {
		snaps = append(snaps, repo.ModelSnapshot{Name: name, Checksum: sum})
	}
	m.mu.Unlock()

	diffs, err := m.client.ModelDiffs(ctx, snaps)
	if err != nil {
		return fmt.Errorf("fetch model diffs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, diff := range diffs {
		switch diff.Kind() {
		case repo.ModelDiffNew:
			m.known[diff.Name()] = diff.Checksum()
		case repo.ModelDiffChanged:
			if !diff.Compatible() {
				m.ledger.RecordIncompatibility(diff.Name(), "model change is not backward compatible")
				continue
			}
			m.known[diff.Name()] = diff.Checksum()
		case repo.ModelDiffRemoved:
			if _, seen := m.known[diff.Name()]; seen {
				m.ledger.RecordIncompatibility(diff.Name(), "model removed while indexed content still references it")
				delete(m.known, diff.Name())
			}
		default:
			m.logger.Warn("unknown model diff kind",
				slog.String("model", diff.Name()),
				slog.String("kind", diff.Kind()))
		}
	}
	return nil
}
