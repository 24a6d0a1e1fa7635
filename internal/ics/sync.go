package ics

import (
	"context"
	"errors"
	"fmt"

	appLog "planner/internal/log"
	"planner/internal/store"
)

// Syncer imports subscribed calendars into the store.
type Syncer struct {
	fetcher *Fetcher
	store   store.Store
	sources []Source
}

func NewSyncer(f *Fetcher, st store.Store, sources []Source) *Syncer {
	return &Syncer{fetcher: f, store: st, sources: sources}
}

// SyncReport summarizes one Sync run.
type SyncReport struct {
	Synced   int // sources whose events were replaced
	Failed   int
	Imported int // events written across all sources
}

// Sync fetches every source and replaces its events in the target
// workspace. A failing source does not stop the others; their errors are
// joined into the returned error.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	var (
		report SyncReport
		errs   []error
	)

	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		n, err := s.syncOne(ctx, src)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			appLog.Error("ics: sync failed", err, "source", src.ID, "workspace", src.Workspace)
			continue
		}
		report.Synced++
		report.Imported += n
	}

	appLog.Info("ics: sync completed", "synced", report.Synced, "failed", report.Failed, "imported", report.Imported)
	return report, errors.Join(errs...)
}

func (s *Syncer) syncOne(ctx context.Context, src Source) (int, error) {
	res, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return 0, err
	}
	events, err := Parse(src, res.Body)
	if err != nil {
		return 0, err
	}
	if err := s.store.ReplaceSourceEvents(ctx, src.Workspace, src.ID, events); err != nil {
		return 0, fmt.Errorf("ics: store %s: %w", src.ID, err)
	}
	return len(events), nil
}
