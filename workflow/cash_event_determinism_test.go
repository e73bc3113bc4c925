package workflow

import (
	"sync"
	"testing"
)

// NOTE: These tests are intentionally DB-free. They validate the intake semantics
// the event workflow is built on:
// - at-least-once delivery is safe via durable idempotency
// - per-clinic serialization prevents racey interleavings inside handlers
//
// Full DB+PubSub integration coverage lives in the models regression tests, which
// need Docker.

type fakeProcessor struct {
	muByClinic map[string]*sync.Mutex
	mu         sync.Mutex
	seen       map[string]bool
	calls      int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		muByClinic: map[string]*sync.Mutex{},
		seen:       map[string]bool{},
	}
}

func (p *fakeProcessor) process(clinicID, handlerName, messageID string, fn func()) {
	// Serialize per clinic (models AcquireClinicCashLock).
	p.mu.Lock()
	cm := p.muByClinic[clinicID]
	if cm == nil {
		cm = &sync.Mutex{}
		p.muByClinic[clinicID] = cm
	}
	p.mu.Unlock()

	cm.Lock()
	defer cm.Unlock()

	// Deduplicate (models IdempotencyKey).
	key := clinicID + "|" + handlerName + "|" + messageID
	p.mu.Lock()
	if p.seen[key] {
		p.mu.Unlock()
		return
	}
	p.seen[key] = true
	p.mu.Unlock()

	fn()

	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
}

func TestCashEvent_DuplicateDelivery_IsProcessedOnce(t *testing.T) {
	p := newFakeProcessor()

	const (
		clinic    = "clinic-1"
		handler   = "PosSalePayment"
		messageID = "vetpos-pay-123"
	)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.process(clinic, handler, messageID, func() {})
		}()
	}
	wg.Wait()

	if p.calls != 1 {
		t.Fatalf("expected exactly 1 processing call, got %d", p.calls)
	}
}

func TestCashEvent_Property_DeterministicUnderConcurrency(t *testing.T) {
	for run := 0; run < 100; run++ {
		p := newFakeProcessor()
		var wg sync.WaitGroup

		// same scenario, repeated concurrently
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p.process("clinic-1", "PosSalePayment", "1", func() {})
				p.process("clinic-1", "PosCashRefund", "2", func() {})
				p.process("clinic-1", "PosSalePayment", "1", func() {}) // duplicate
			}(i)
		}
		wg.Wait()

		if p.calls != 2 {
			t.Fatalf("run=%d expected 2 unique calls (payment#1, refund#2), got %d", run, p.calls)
		}
	}
}

func TestCashEvent_SameMessageIdDifferentClinics_BothProcess(t *testing.T) {
	p := newFakeProcessor()

	p.process("clinic-1", "PosSalePayment", "1", func() {})
	p.process("clinic-2", "PosSalePayment", "1", func() {})

	if p.calls != 2 {
		t.Fatalf("dedup must scope to the clinic, got %d calls", p.calls)
	}
}
