package common

import (
	"context"
	"log"
	"sync"
	"time"
)

// TimeSync tracks the offset between local and exchange server clocks so
// signed requests carry timestamps inside the venue's recv window.
type TimeSync struct {
	fetch    func(ctx context.Context) (int64, error)
	offset   int64 // ms, server minus local
	lastSync time.Time
	interval time.Duration
	mu       sync.RWMutex
}

// NewTimeSync creates a sync manager around a server-time fetcher.
func NewTimeSync(fetch func(ctx context.Context) (int64, error)) *TimeSync {
	return &TimeSync{fetch: fetch, interval: 30 * time.Minute}
}

// Start syncs once, then keeps syncing in the background until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		log.Printf("timesync: initial sync failed: %v", err)
	}
	go func() {
		ticker := time.NewTicker(ts.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					log.Printf("timesync: sync failed: %v", err)
				}
			}
		}
	}()
}

// Sync measures the clock offset, assuming symmetric network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.fetch(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// Now returns the current time in ms adjusted for the server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
