// Package ratelimit implements the single process-wide, cross-process
// admission point every outbound HTTP call routes through (spec.md §4.1):
// a persisted token bucket, a concurrency semaphore, and a host-wide ban
// deadline. State lives under a shared directory so peer processes
// cooperate, guarded by an advisory OS file lock (github.com/gofrs/flock)
// with atomic write-temp-then-rename updates.
//
// The token-bucket shape (tokens/capacity/refillRate/lastRefill) is
// grounded on adred-codev-ws_poc/ws's per-client TokenBucket, generalized
// here to a single bucket shared across every caller on the host instead of
// one bucket per client — spec.md §9 is explicit that the budget must not
// live behind an in-process-only primitive.
package ratelimit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"
)

// Limiter is the process-wide admission gate described by spec.md §4.1.
type Limiter struct {
	capacity   float64 // rate_per_minute, capped at 2400
	refillRate float64 // capacity / 60 per second
	sem        chan struct{}

	statePath string
	banPath   string
	lockPath  string

	// local smooths bursts of in-process acquirers before they ever touch
	// the file lock, so that not every goroutine in this process hammers
	// the lock at the same instant. Its burst is MaxConcurrent tokens,
	// refilled at capacity/60 per second, so it can delay a caller even
	// while the persisted bucket still holds tokens.
	local *rate.Limiter
}

// Options configures a new Limiter.
type Options struct {
	RatePerMinute int    // capped at 2400
	MaxConcurrent int    // capped at 20
	StateDir      string // shared directory for persisted state files
}

// New builds a Limiter. StateDir is created if missing.
func New(opts Options) (*Limiter, error) {
	rpm := opts.RatePerMinute
	if rpm <= 0 || rpm > 2400 {
		rpm = 2400
	}
	maxConc := opts.MaxConcurrent
	if maxConc <= 0 || maxConc > 20 {
		maxConc = 20
	}
	if err := os.MkdirAll(opts.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ratelimit: create state dir: %w", err)
	}

	capacity := float64(rpm)
	refill := capacity / 60.0

	return &Limiter{
		capacity:   capacity,
		refillRate: refill,
		sem:        make(chan struct{}, maxConc),
		statePath:  filepath.Join(opts.StateDir, "rate_limit_state"),
		banPath:    filepath.Join(opts.StateDir, "ban_until"),
		lockPath:   filepath.Join(opts.StateDir, "rate_limit.lock"),
		local:      rate.NewLimiter(rate.Limit(refill), maxConc),
	}, nil
}

// Acquire blocks until a ban (if any) has expired, a concurrency slot is
// free, and weight tokens have been consumed from the persisted bucket.
// Callers MUST call Release on every exit path once acquired.
func (l *Limiter) Acquire(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}

	for {
		if err := l.waitForBanClear(ctx); err != nil {
			return err
		}

		// Smooth in-process bursts before contending for the semaphore
		// and the cross-process file lock.
		if err := l.local.WaitN(ctx, weight); err != nil {
			return err
		}

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		ok, wait, err := l.tryConsume(weight)
		if err != nil {
			<-l.sem
			return err
		}
		if ok {
			return nil
		}

		// Insufficient tokens: wait the computed duration, then recheck
		// the ban (it may have been set by another worker meanwhile). If
		// a ban appeared, give the slot back and restart from the top.
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		}

		banned, err := l.banActive()
		if err != nil {
			<-l.sem
			return err
		}
		if banned {
			<-l.sem
			continue
		}
		// Not banned: loop back to tryConsume without releasing the slot.
		for {
			ok, wait, err := l.tryConsume(weight)
			if err != nil {
				<-l.sem
				return err
			}
			if ok {
				return nil
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				<-l.sem
				return ctx.Err()
			}
		}
	}
}

// Release returns the concurrency slot taken by a successful Acquire. It
// must be called on every exit path of the caller (spec.md §4.1).
func (l *Limiter) Release() {
	select {
	case <-l.sem:
	default:
	}
}

// waitForBanClear re-reads ban_until from disk; if still active, it sleeps
// until 5 seconds past the deadline, then rechecks (spec.md §4.1 step 1).
func (l *Limiter) waitForBanClear(ctx context.Context) error {
	for {
		until, err := l.readBan()
		if err != nil {
			return err
		}
		now := time.Now()
		if until.IsZero() || !until.After(now) {
			return nil
		}
		d := until.Add(5 * time.Second).Sub(now)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Limiter) banActive() (bool, error) {
	until, err := l.readBan()
	if err != nil {
		return false, err
	}
	return until.After(time.Now()), nil
}

func (l *Limiter) readBan() (time.Time, error) {
	var bs banState
	if err := readJSON(l.banPath, &bs); err != nil {
		return time.Time{}, fmt.Errorf("ratelimit: read ban state: %w", err)
	}
	if bs.UntilUnix == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, int64(bs.UntilUnix*float64(time.Second))), nil
}

// SetBan atomically raises the ban deadline to max(current, until), per
// spec.md §4.1's set_ban contract. Any holder on any process may call this.
func (l *Limiter) SetBan(until time.Time) error {
	fl := flock.New(l.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("ratelimit: lock: %w", err)
	}
	defer fl.Unlock()

	cur, err := l.readBan()
	if err != nil {
		return err
	}
	if until.Before(cur) {
		until = cur
	}
	return writeAtomic(l.banPath, banState{UntilUnix: float64(until.UnixNano()) / float64(time.Second)})
}

// tryConsume refills the persisted bucket based on elapsed time, and
// deducts weight tokens if enough are available. On insufficient tokens it
// returns the wait duration needed before retrying (spec.md §4.1 step 3).
func (l *Limiter) tryConsume(weight int) (ok bool, wait time.Duration, err error) {
	fl := flock.New(l.lockPath)
	if lockErr := fl.Lock(); lockErr != nil {
		return false, 0, fmt.Errorf("ratelimit: lock: %w", lockErr)
	}
	defer fl.Unlock()

	var st bucketState
	if readErr := readJSON(l.statePath, &st); readErr != nil {
		return false, 0, fmt.Errorf("ratelimit: read bucket state: %w", readErr)
	}
	if st.LastRefillUnix == 0 {
		st.Tokens = l.capacity
		st.LastRefillUnix = float64(time.Now().UnixNano()) / float64(time.Second)
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	elapsed := now - st.LastRefillUnix
	if elapsed < 0 {
		elapsed = 0
	}
	st.Tokens += elapsed * l.refillRate
	if st.Tokens > l.capacity {
		st.Tokens = l.capacity
	}
	st.LastRefillUnix = now

	need := float64(weight)
	if st.Tokens >= need {
		st.Tokens -= need
		if werr := writeAtomic(l.statePath, st); werr != nil {
			return false, 0, fmt.Errorf("ratelimit: write bucket state: %w", werr)
		}
		return true, 0, nil
	}

	deficit := need - st.Tokens
	waitSecs := deficit / l.refillRate
	if werr := writeAtomic(l.statePath, st); werr != nil {
		return false, 0, fmt.Errorf("ratelimit: write bucket state: %w", werr)
	}
	return false, time.Duration(waitSecs * float64(time.Second)), nil
}
