// Package admission provides per-user request admission control.
//
// Two independent gates are combined: a cooldown gate (minimum spacing
// between accepted requests) and a fixed-window gate (maximum accepted
// requests per window). Both must pass for a request to be admitted.
package admission

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool
	Reason     string        // e.g. "cooldown", "window_limit"
	RetryAfter time.Duration // time until the request could succeed
}

// Allow returns an allowed decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denied decision with the given reason and retry hint.
func Deny(reason string, retryAfter time.Duration) Decision {
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}

// ledgerEntry is the per-user admission record. It is reset lazily once
// both the cooldown and the open window have elapsed.
type ledgerEntry struct {
	windowStart  time.Time // first accepted request in the current window
	windowCount  int       // accepted requests in the current window
	lastAccepted time.Time // most recent accepted request
}

// Limiter enforces per-user admission control. The ledger is the only
// state shared across sessions; it tolerates concurrent access from
// requests originating in different sessions for the same user.
type Limiter struct {
	mu     sync.Mutex
	ledger map[snowflake.ID]*ledgerEntry
	config *Config
	nowFn  func() time.Time
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg *Config) *Limiter {
	return &Limiter{
		ledger: make(map[snowflake.ID]*ledgerEntry),
		config: cfg,
		nowFn:  time.Now,
	}
}

// Check evaluates both gates for the user without mutating any state.
// RecordAcceptance must be called separately once the request has been
// fully admitted and queued.
func (l *Limiter) Check(userID snowflake.ID) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	entry, ok := l.ledger[userID]
	if !ok {
		return Allow()
	}

	if l.expiredLocked(entry, now) {
		// Lazy GC: reset on next access once the window has elapsed.
		delete(l.ledger, userID)
		return Allow()
	}

	// Cooldown gate.
	if l.config.Cooldown > 0 && !entry.lastAccepted.IsZero() {
		since := now.Sub(entry.lastAccepted)
		if since < l.config.Cooldown {
			return Deny("cooldown", l.config.Cooldown-since)
		}
	}

	// Fixed-window gate.
	if l.config.WindowMax > 0 && !entry.windowStart.IsZero() {
		windowEnd := entry.windowStart.Add(l.config.Window)
		if now.Before(windowEnd) && entry.windowCount >= l.config.WindowMax {
			return Deny("window_limit", windowEnd.Sub(now))
		}
	}

	return Allow()
}

// RecordAcceptance records a fully admitted and queued request. It opens
// a new window if none is open or the open window has expired, otherwise
// increments the running count.
func (l *Limiter) RecordAcceptance(userID snowflake.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	entry, ok := l.ledger[userID]
	if !ok || l.expiredLocked(entry, now) {
		entry = &ledgerEntry{}
		l.ledger[userID] = entry
	}

	if entry.windowStart.IsZero() || !now.Before(entry.windowStart.Add(l.config.Window)) {
		entry.windowStart = now
		entry.windowCount = 1
	} else {
		entry.windowCount++
	}
	entry.lastAccepted = now

	zlog.Debug().Msgf("admission: recorded acceptance: user_id=%s window_count=%d", userID, entry.windowCount)
}

// LedgerSize returns the number of live ledger entries.
func (l *Limiter) LedgerSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ledger)
}

// expiredLocked reports whether an entry carries no information anymore:
// the window has run out and the cooldown since the last acceptance has
// fully elapsed.
func (l *Limiter) expiredLocked(entry *ledgerEntry, now time.Time) bool {
	windowOver := entry.windowStart.IsZero() || !now.Before(entry.windowStart.Add(l.config.Window))
	cooldownOver := entry.lastAccepted.IsZero() || !now.Before(entry.lastAccepted.Add(l.config.Cooldown))
	return windowOver && cooldownOver
}
