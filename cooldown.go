package apiclient

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// CooldownDecision is the outcome of a cooldown check.
type CooldownDecision int

const (
	CooldownAllowed CooldownDecision = iota
	CooldownBlocked
)

func (d CooldownDecision) String() string {
	if d == CooldownBlocked {
		return "blocked"
	}
	return "allowed"
}

type cooldownRecord struct {
	issuedAt time.Time
	release  *clock.Timer
}

// CooldownGuard rejects a fingerprint issued again within a short window.
// Records are released by a deferred timer on the injected clock; a release
// only removes the record it was scheduled for.
type CooldownGuard struct {
	mu      sync.Mutex
	clock   clock.Clock
	records map[string]*cooldownRecord
}

// NewCooldownGuard creates a guard. A nil clock uses wall time.
func NewCooldownGuard(clk clock.Clock) *CooldownGuard {
	if clk == nil {
		clk = clock.New()
	}
	return &CooldownGuard{
		clock:   clk,
		records: make(map[string]*cooldownRecord),
	}
}

// TryAcquire reports whether fp was issued less than window ago.
func (g *CooldownGuard) TryAcquire(fp string, window time.Duration) CooldownDecision {
	if window <= 0 {
		return CooldownAllowed
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[fp]
	if !ok {
		return CooldownAllowed
	}
	if g.clock.Now().Sub(rec.issuedAt) < window {
		return CooldownBlocked
	}
	return CooldownAllowed
}

// Record stamps fp as issued now, cancelling any release pending for an
// earlier stamp.
func (g *CooldownGuard) Record(fp string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.records[fp]; ok && old.release != nil {
		old.release.Stop()
	}
	g.records[fp] = &cooldownRecord{issuedAt: g.clock.Now()}
}

// ScheduleRelease removes the current record for fp after the given delay.
func (g *CooldownGuard) ScheduleRelease(fp string, after time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[fp]
	if !ok {
		return
	}
	if rec.release != nil {
		rec.release.Stop()
	}
	if after <= 0 {
		delete(g.records, fp)
		return
	}
	rec.release = g.clock.AfterFunc(after, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.records[fp] == rec {
			delete(g.records, fp)
		}
	})
}

// Has reports whether fp holds a record.
func (g *CooldownGuard) Has(fp string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.records[fp]
	return ok
}

// Len returns the number of records.
func (g *CooldownGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// Clear drops every record and cancels their releases.
func (g *CooldownGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rec := range g.records {
		if rec.release != nil {
			rec.release.Stop()
		}
	}
	g.records = make(map[string]*cooldownRecord)
}
