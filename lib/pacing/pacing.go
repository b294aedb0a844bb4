// Package pacing names the deliberate delays that keep the account
// under the marketplace's abuse heuristics. Sleeps in protocol code go
// through a Policy so tests can inject a zero-delay one.
package pacing

import (
	"context"
	"time"
)

type Policy struct {
	// wait between consecutive chat replies
	BetweenChats time.Duration
	// wait between raise requests for sibling categories
	BetweenRaises time.Duration
	// wait between the two raise commit attempts
	BeforeCommitRetry time.Duration
	// wait between polling cycles
	PollInterval time.Duration
}

func Default() Policy {
	return Policy{
		BetweenChats:      1500 * time.Millisecond,
		BetweenRaises:     1500 * time.Millisecond,
		BeforeCommitRetry: time.Second,
		PollInterval:      15 * time.Second,
	}
}

func Zero() Policy {
	return Policy{}
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
