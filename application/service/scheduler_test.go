package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tracksync/tracksync/domain/tracker"
)

type countingRunner struct {
	kind tracker.Kind
	runs atomic.Int64
	err  error
}

func (r *countingRunner) Kind() tracker.Kind { return r.kind }

func (r *countingRunner) RunOnce(context.Context) error {
	r.runs.Add(1)
	return r.err
}

func TestScheduler_RunsEachTrackerImmediately(t *testing.T) {
	s := NewScheduler(testLogger())
	meta := &countingRunner{kind: tracker.KindMetadata}
	acls := &countingRunner{kind: tracker.KindAcl}
	s.Add(meta, time.Hour)
	s.Add(acls, time.Hour)

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return meta.runs.Load() >= 1 && acls.runs.Load() >= 1
	}, time.Second, 10*time.Millisecond)
	s.Stop()
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	s := NewScheduler(testLogger())
	r := &countingRunner{kind: tracker.KindContent}
	s.Add(r, 10*time.Millisecond)

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return r.runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_StopWaitsForRunners(t *testing.T) {
	s := NewScheduler(testLogger())
	r := &countingRunner{kind: tracker.KindMetadata, err: assert.AnError}
	s.Add(r, time.Hour)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return r.runs.Load() >= 1 }, time.Second, 10*time.Millisecond)
	s.Stop()

	after := r.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, r.runs.Load(), "no runs happen after Stop returns")
}
