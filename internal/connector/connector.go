// Package connector runs all enabled sources for a run, snapshots their
// raw output, and reports per-source success or failure. One source
// failing never aborts its siblings; the normalizer and gates downstream
// decide whether enough primary sources succeeded.
package connector

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"policypipe/internal/config"
	"policypipe/internal/schema"
	"policypipe/internal/snapshot"
	"policypipe/internal/source"
)

// Result is the joined outcome of a connector stage.
type Result struct {
	Rows    map[string][]source.Row // source_id -> raw rows, successes only
	Reports []schema.FetchReport    // one per enabled source, config order
}

// PrimariesSucceeded reports how many primary-tier sources fetched OK.
func (r *Result) PrimariesSucceeded() int {
	n := 0
	for _, rep := range r.Reports {
		if rep.Tier == config.TierPrimary && rep.OK {
			n++
		}
	}
	return n
}

// Connector fetches all sources concurrently and waits for every fetch to
// settle before returning: downstream stages see a full join, never a
// partial overlap.
type Connector struct {
	store *snapshot.Store
	log   *zap.Logger
}

// New returns a Connector writing snapshots through store.
func New(store *snapshot.Store, log *zap.Logger) *Connector {
	return &Connector{store: store, log: log}
}

// Run fetches every enabled source for runID. Fetch errors become
// per-source failure flags in the result; only snapshot write errors are
// returned, since they mean the run directory itself is unusable.
func (c *Connector) Run(ctx context.Context, sources []config.Source, runID string) (*Result, error) {
	enabled := make([]config.Source, 0, len(sources))
	for _, s := range sources {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	res := &Result{
		Rows:    make(map[string][]source.Row, len(enabled)),
		Reports: make([]schema.FetchReport, len(enabled)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range enabled {
		i, cfg := i, cfg
		g.Go(func() error {
			report := schema.FetchReport{SourceID: cfg.SourceID, Tier: cfg.Tier}

			src, err := source.New(cfg)
			if err == nil {
				var rows []source.Row
				rows, err = src.Fetch(gctx)
				if err == nil {
					if _, werr := c.store.Write(runID, cfg.SourceID, rows); werr != nil {
						return werr
					}
					report.OK = true
					report.Rows = len(rows)
					mu.Lock()
					res.Rows[cfg.SourceID] = rows
					mu.Unlock()
				}
			}
			if err != nil {
				report.Error = err.Error()
				c.log.Warn("source fetch failed",
					zap.String("source_id", cfg.SourceID),
					zap.String("tier", cfg.Tier),
					zap.Bool("permanent", source.IsPermanent(err)),
					zap.Error(err))
			} else {
				c.log.Info("source fetched",
					zap.String("source_id", cfg.SourceID),
					zap.Int("rows", report.Rows))
			}

			mu.Lock()
			res.Reports[i] = report
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
