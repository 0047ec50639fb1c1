// Package lockmgr implements the row-level pessimistic lock table: a
// bounded pool of lock cells, one per currently-locked record, with a
// background watchdog that force-releases locks held past a deadline.
package lockmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"recorddb/txncontext"
)

// CallerId identifies the session that owns a lock. Every lock acquired,
// and every transaction context staged under it, is scoped to one CallerId.
type CallerId uuid.UUID

// NewCallerId mints a fresh, random caller identity.
func NewCallerId() CallerId {
	return CallerId(uuid.New())
}

func (c CallerId) String() string {
	return uuid.UUID(c).String()
}

// PoolExhaustedError is returned when every cell in the pool is occupied
// and none can be evicted to satisfy a new lock request. It is treated as
// fatal by the engine: it means contention has outrun the pool's capacity.
type PoolExhaustedError struct {
	Capacity int
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("lockmgr: pool exhausted, all %d cells occupied", e.Capacity)
}

type cell struct {
	occupied     bool
	recordNumber int
	owner        CallerId
	startedAt    time.Time
	txn          *txncontext.Context
}

// Config tunes the pool's capacity, the watchdog's deadlock deadline, and
// the interval a blocked Lock call waits between rechecks.
type Config struct {
	Capacity        int           // M: maximum concurrently-held locks
	DeadlockTimeout time.Duration // L: force-release a lock held this long
	RecheckInterval time.Duration // T: how often a blocked Lock call rechecks
}

// DefaultConfig matches the legacy tuning: a pool of 1000 cells, a 60s
// deadlock timeout, and a 10s recheck interval.
func DefaultConfig() Config {
	return Config{
		Capacity:        1000,
		DeadlockTimeout: 60 * time.Second,
		RecheckInterval: 10 * time.Second,
	}
}

// Manager is the row-level lock table. One Manager serves one data file.
type Manager struct {
	cfg Config
	log *logrus.Entry

	mu      sync.Mutex
	cond    *sync.Cond
	cells   []*cell
	byRecNo map[int]*cell

	stopWatchdog chan struct{}
	watchdogDone chan struct{}
}

// New builds a Manager and starts its background deadlock watchdog.
func New(cfg Config, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		cfg:          cfg,
		log:          log,
		byRecNo:      make(map[int]*cell),
		stopWatchdog: make(chan struct{}),
		watchdogDone: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.watchdogLoop()
	return m
}

// Close stops the background watchdog. It does not release any held locks.
func (m *Manager) Close() {
	close(m.stopWatchdog)
	<-m.watchdogDone
}

// Lock blocks until recordNumber can be locked by caller, ctx is canceled,
// or the pool turns out to be exhausted with no cell available to evict.
// A caller that already holds the lock gets its existing transaction
// context back (re-entrant).
func (m *Manager) Lock(ctx context.Context, recordNumber int, caller CallerId) (*txncontext.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if c, ok := m.byRecNo[recordNumber]; ok {
			if c.owner == caller {
				return c.txn, nil
			}
			// Held by someone else: wait for a release or the periodic
			// recheck broadcast (see watchdogLoop), whichever comes first,
			// so a canceled ctx is noticed promptly.
			if !m.waitLocked(ctx) {
				return nil, ctx.Err()
			}
			continue
		}

		c, err := m.acquireCellLocked(recordNumber, caller)
		if err != nil {
			return nil, err
		}
		return c.txn, nil
	}
}

// waitLocked blocks on the condition variable until woken by a release, a
// periodic recheck broadcast, or ctx ending. Callers hold mu; cond.Wait
// atomically releases it for the duration of the wait and reacquires it
// before returning. It reports false if ctx ended the wait.
func (m *Manager) waitLocked(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-done:
		}
	}()

	m.cond.Wait()
	close(done)
	return ctx.Err() == nil
}

// acquireCellLocked finds a free cell for recordNumber, reusing a
// currently-unoccupied cell if the pool is at capacity. Callers hold mu.
func (m *Manager) acquireCellLocked(recordNumber int, caller CallerId) (*cell, error) {
	var target *cell

	if len(m.cells) < m.cfg.Capacity {
		target = &cell{}
		m.cells = append(m.cells, target)
	} else {
		for _, c := range m.cells {
			if !c.occupied {
				target = c
				break
			}
		}
		if target == nil {
			return nil, &PoolExhaustedError{Capacity: m.cfg.Capacity}
		}
	}

	target.occupied = true
	target.recordNumber = recordNumber
	target.owner = caller
	target.startedAt = time.Now()
	target.txn = txncontext.New(recordNumber)

	m.byRecNo[recordNumber] = target
	return target, nil
}

// Unlock releases recordNumber's cell iff owned by caller, returning the
// transaction context that was attached to it so the caller can commit or
// discard its staged writes. It is the caller's responsibility to act on
// the returned context before any other caller can observe the record —
// Unlock itself only manages cell bookkeeping.
func (m *Manager) Unlock(recordNumber int, caller CallerId) (*txncontext.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byRecNo[recordNumber]
	if !ok || c.owner != caller {
		return nil, fmt.Errorf("lockmgr: record %d is not locked by this caller", recordNumber)
	}

	txn := c.txn
	m.releaseCellLocked(recordNumber, c)
	return txn, nil
}

// Context returns the transaction context attached to recordNumber's lock,
// iff it is currently held by caller. Update and Delete use this to stage
// writes into an already-held lock without re-acquiring it.
func (m *Manager) Context(recordNumber int, caller CallerId) (*txncontext.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byRecNo[recordNumber]
	if !ok || c.owner != caller {
		return nil, fmt.Errorf("lockmgr: record %d is not locked by this caller", recordNumber)
	}
	return c.txn, nil
}

// Has reports whether recordNumber is currently locked, and by whom.
func (m *Manager) Has(recordNumber int) (CallerId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byRecNo[recordNumber]
	if !ok {
		return CallerId{}, false
	}
	return c.owner, true
}

// ReleaseAllOwnedBy force-releases every lock currently held by caller,
// discarding any staged writes, and returns the record numbers that were
// released. Used when a session ends without cleanly unlocking everything
// it held.
func (m *Manager) ReleaseAllOwnedBy(caller CallerId) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []int
	for recNo, c := range m.byRecNo {
		if c.owner == caller {
			released = append(released, recNo)
		}
	}
	for _, recNo := range released {
		m.releaseCellLocked(recNo, m.byRecNo[recNo])
	}
	return released
}

// ForceRelease drops recordNumber's lock cell, if any, regardless of owner,
// discarding its transaction context without commit. It is a no-op if
// recordNumber isn't currently locked. Used defensively by Engine.Create to
// clear any stale cell left behind on a record number it is about to reuse.
func (m *Manager) ForceRelease(recordNumber int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byRecNo[recordNumber]
	if !ok {
		return
	}
	m.releaseCellLocked(recordNumber, c)
}

// LockInfo is a point-in-time snapshot of one occupied lock cell, for
// diagnostics such as cmd inspect. It mirrors the
// original source's LockManager.toString()/StatefulLock.toString() dumps.
type LockInfo struct {
	RecordNumber   int
	Owner          CallerId
	Age            time.Duration
	HasPendingData bool
	PendingDelete  bool
}

// Snapshot returns a LockInfo for every currently-occupied cell, ordered by
// record number.
func (m *Manager) Snapshot() []LockInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]LockInfo, 0, len(m.byRecNo))
	for recNo, c := range m.byRecNo {
		_, hasPending := c.txn.Pending()
		infos = append(infos, LockInfo{
			RecordNumber:   recNo,
			Owner:          c.owner,
			Age:            time.Since(c.startedAt),
			HasPendingData: hasPending,
			PendingDelete:  c.txn.IsDeleted(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RecordNumber < infos[j].RecordNumber })
	return infos
}

func (m *Manager) releaseCellLocked(recordNumber int, c *cell) {
	c.occupied = false
	c.txn = nil
	delete(m.byRecNo, recordNumber)
	m.cond.Broadcast()
}

// watchdogLoop ticks at RecheckInterval. Every tick it sweeps cells held
// past DeadlockTimeout and force-releases them, then broadcasts the
// condition so every blocked Lock call gets a chance to recheck whether
// the record it wants just freed up.
func (m *Manager) watchdogLoop() {
	defer close(m.watchdogDone)

	ticker := time.NewTicker(m.cfg.RecheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopWatchdog:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for recNo, c := range m.byRecNo {
		if now.Sub(c.startedAt) >= m.cfg.DeadlockTimeout {
			m.log.WithFields(logrus.Fields{
				"record": recNo,
				"owner":  c.owner.String(),
				"held":   now.Sub(c.startedAt).String(),
			}).Warn("lockmgr: force-releasing lock past deadlock timeout")
			m.releaseCellLocked(recNo, c)
		}
	}
	m.cond.Broadcast()
}
