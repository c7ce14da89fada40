// Package pool implements the L1 (read-only) and L2 (write-capable)
// bounded agent pools, grounded on the semaphore-channel and
// sync.WaitGroup fan-out idiom the tool executor uses to bound
// concurrent tool calls.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelrun/runner/internal/errkind"
	"github.com/kestrelrun/runner/internal/lockmgr"
)

// DefaultL1Capacity and DefaultL2Capacity are the soft defaults named in
// the concurrency and resource model; callers normally source these from
// configuration instead.
const (
	DefaultL1Capacity = 9
	DefaultL2Capacity = 4
)

// Agent is a handle to one acquired worker slot.
type Agent struct {
	ID           string
	AllowedPaths []string // L1 only: read whitelist
	lastActivity time.Time
	mu           sync.Mutex
}

func (a *Agent) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

func (a *Agent) idleSince() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// L1Pool is the fixed-capacity read-only pool. Readers never take a
// lock. Acquisitions beyond capacity are queued FIFO when queueing is
// enabled, and otherwise fail immediately.
type L1Pool struct {
	sem      chan struct{}
	queueing bool
	seq      int
	mu       sync.Mutex
}

// NewL1Pool constructs a pool with the given capacity (DefaultL1Capacity
// if capacity <= 0) and FIFO-queueing behavior.
func NewL1Pool(capacity int, queueing bool) *L1Pool {
	if capacity <= 0 {
		capacity = DefaultL1Capacity
	}
	return &L1Pool{sem: make(chan struct{}, capacity), queueing: queueing}
}

// Acquire reserves a read-only agent slot, optionally queueing FIFO if
// the pool is at capacity and queueing is enabled.
func (p *L1Pool) Acquire(ctx context.Context, allowedPaths []string) (*Agent, error) {
	if p.queueing {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, errkind.New(errkind.ResourceLimit, "L1Pool.Acquire", ctx.Err())
		}
	} else {
		select {
		case p.sem <- struct{}{}:
		default:
			return nil, errkind.New(errkind.ResourceLimit, "L1Pool.Acquire", fmt.Errorf("L1 pool at capacity and queueing is disabled"))
		}
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("l1-%03d", p.seq)
	p.mu.Unlock()

	return &Agent{ID: id, AllowedPaths: allowedPaths, lastActivity: time.Now()}, nil
}

// Release frees an L1 slot.
func (p *L1Pool) Release(*Agent) {
	<-p.sem
}

// Acquisition is the receipt of a successful L2 Acquire: both the agent
// slot and its atomically-held lock.
type Acquisition struct {
	Agent *Agent
	Lock  *lockmgr.Lock
}

// L2Pool is the fixed-capacity write-capable pool. Acquisition takes a
// set of lock paths; it succeeds only if every path is currently
// unlocked, acquiring them all atomically via the lock manager.
type L2Pool struct {
	sem        chan struct{}
	locks      *lockmgr.Manager
	mu         sync.Mutex
	seq        int
	live       map[string]*Acquisition
	staleAfter time.Duration
	stopSweep  chan struct{}
	onStaleReap func(agentID string)
}

// NewL2Pool constructs a pool with the given capacity (DefaultL2Capacity
// if capacity <= 0), a lock manager, and a stale-executor threshold. The
// sweep goroutine is started immediately; call Stop to shut it down.
// onStaleReap, if non-nil, is invoked with the id of every agent the
// sweep reaps, so the runner core can mark its task ERROR instead of
// leaving it silently abandoned.
func NewL2Pool(capacity int, locks *lockmgr.Manager, staleAfter time.Duration, onStaleReap func(agentID string)) *L2Pool {
	if capacity <= 0 {
		capacity = DefaultL2Capacity
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	p := &L2Pool{
		sem:         make(chan struct{}, capacity),
		locks:       locks,
		live:        make(map[string]*Acquisition),
		staleAfter:  staleAfter,
		stopSweep:   make(chan struct{}),
		onStaleReap: onStaleReap,
	}
	go p.sweepLoop()
	return p
}

// Acquire reserves a write-capable agent slot and its lock paths
// atomically. On lock conflict the semaphore slot is released before
// returning, so a failed acquisition never leaks pool capacity.
func (p *L2Pool) Acquire(ctx context.Context, lockPaths []string) (*Acquisition, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errkind.New(errkind.ResourceLimit, "L2Pool.Acquire", ctx.Err())
	default:
		return nil, errkind.New(errkind.ResourceLimit, "L2Pool.Acquire", fmt.Errorf("L2 pool at capacity"))
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("l2-%03d", p.seq)
	p.mu.Unlock()

	lock, err := p.locks.AcquireAll(id, lockPaths)
	if err != nil {
		<-p.sem
		return nil, err
	}

	acq := &Acquisition{Agent: &Agent{ID: id, lastActivity: time.Now()}, Lock: lock}
	p.mu.Lock()
	p.live[id] = acq
	p.mu.Unlock()

	return acq, nil
}

// Touch marks an agent as having made progress, resetting its
// stale-executor clock.
func (p *L2Pool) Touch(a *Agent) {
	a.touch()
}

// Release frees the agent's lock paths and its pool slot atomically.
func (p *L2Pool) Release(acq *Acquisition) {
	p.locks.Release(acq.Lock)
	p.mu.Lock()
	delete(p.live, acq.Agent.ID)
	p.mu.Unlock()
	<-p.sem
}

// Stop halts the stale-executor sweep goroutine. Call on shutdown.
func (p *L2Pool) Stop() {
	close(p.stopSweep)
}

func (p *L2Pool) sweepLoop() {
	ticker := time.NewTicker(p.staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepOnce()
		case <-p.stopSweep:
			return
		}
	}
}

// StaleAgentIDs reports agents whose last activity predates the stale
// threshold, without reaping them.
func (p *L2Pool) StaleAgentIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, acq := range p.live {
		if time.Since(acq.Agent.idleSince()) > p.staleAfter {
			out = append(out, id)
		}
	}
	return out
}

// sweepOnce reaps every agent past the stale threshold: releases its
// locks and pool slot, then reports it via onStaleReap.
func (p *L2Pool) sweepOnce() {
	for _, id := range p.StaleAgentIDs() {
		p.mu.Lock()
		acq, ok := p.live[id]
		if ok {
			delete(p.live, id)
		}
		p.mu.Unlock()
		if !ok {
			continue
		}
		p.locks.Release(acq.Lock)
		<-p.sem
		if p.onStaleReap != nil {
			p.onStaleReap(id)
		}
	}
}
