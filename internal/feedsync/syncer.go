// Package feedsync imports subscribed ICS calendars into the store, on
// demand or on a cron schedule.
package feedsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"famschedule/internal/config"
	"famschedule/internal/ics"
	appLog "famschedule/internal/log"
	"famschedule/internal/model"
)

// lookback keeps recently finished feed events so the current week and
// month views stay complete.
const lookback = 35 * 24 * time.Hour

// FeedStore receives the events of one feed, replacing what it held before.
type FeedStore interface {
	ReplaceFeed(ctx context.Context, source string, events []model.Event) error
}

// Fetcher obtains a feed's ICS body.
type Fetcher interface {
	Fetch(ctx context.Context, feed config.FeedConfig) (ics.FetchResult, error)
}

// Result summarizes one feed's sync.
type Result struct {
	Feed      string `json:"feed"`
	Events    int    `json:"events"`
	FromCache bool   `json:"from_cache"`
	Error     string `json:"error,omitempty"`
}

// Syncer pulls every configured feed into the store.
type Syncer struct {
	store   FeedStore
	fetcher Fetcher
	feeds   []config.FeedConfig
	days    int
	loc     *time.Location

	// Now is the clock; replaced in tests.
	Now func() time.Time

	mu sync.Mutex
}

// NewSyncer creates a Syncer for cfg's feeds.
func NewSyncer(store FeedStore, fetcher Fetcher, cfg *config.Config) *Syncer {
	days := cfg.SyncDays
	if days <= 0 {
		days = config.DefaultSyncDays
	}
	return &Syncer{
		store:   store,
		fetcher: fetcher,
		feeds:   cfg.Feeds,
		days:    days,
		loc:     cfg.Location(),
		Now:     time.Now,
	}
}

// Feeds returns the configured feeds.
func (s *Syncer) Feeds() []config.FeedConfig {
	return s.feeds
}

// SyncAll syncs every feed in order. A failing feed keeps its previously
// stored events; its error is logged, reported in its Result and joined
// into the returned error. Concurrent calls are serialized.
func (s *Syncer) SyncAll(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	opts := ics.Options{
		From:     today.Add(-lookback),
		To:       today.AddDate(0, 0, s.days+1),
		Location: s.loc,
	}

	results := make([]Result, 0, len(s.feeds))
	var errs []error
	for _, feed := range s.feeds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := s.syncOne(ctx, feed, opts)
		if err != nil {
			appLog.Error("feed sync failed", err, "feed", feed.ID)
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
		}
		results = append(results, res)
	}

	appLog.Info("feed sync finished", "feeds", len(s.feeds), "failed", len(errs))
	return results, errors.Join(errs...)
}

func (s *Syncer) syncOne(ctx context.Context, feed config.FeedConfig, opts ics.Options) (Result, error) {
	res := Result{Feed: feed.ID}

	fetched, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return res, err
	}
	res.FromCache = fetched.FromCache

	events, err := ics.Parse(feed, fetched.Body, opts)
	if err != nil {
		return res, err
	}
	if err := s.store.ReplaceFeed(ctx, feed.ID, events); err != nil {
		return res, fmt.Errorf("storing events: %w", err)
	}

	res.Events = len(events)
	appLog.Info("feed synced", "feed", feed.ID, "events", res.Events, "from_cache", res.FromCache)
	return res, nil
}
