// Package pipeline runs the roster pipeline for every configured program.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/rostertrack/internal/aggregate"
	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// Resolver lists the snapshots of a page.
type Resolver interface {
	Resolve(ctx context.Context, url string) []tracker.Snapshot
}

// Discoverer expands a roster URL into its paginated pages.
type Discoverer interface {
	Discover(ctx context.Context, baseURL string) []string
}

// Modules runs the extraction module of a site.
type Modules interface {
	Invoke(ctx context.Context, site tracker.SiteID, html string) ([]string, error)
}

// Generator makes sure a site has a working extraction module.
type Generator interface {
	EnsureValid(ctx context.Context, site tracker.SiteID, sample string) error
}

// Validator checks the names extracted from one snapshot.
type Validator interface {
	Validate(source string, names []string) error
}

// Placement marks placed people.
type Placement interface {
	Mark(ctx context.Context, placementURL string, summaries []tracker.PersonSummary) []tracker.PersonSummary
}

// Dataset receives each program's summaries.
type Dataset interface {
	MergeAndPersist(ctx context.Context, summaries []tracker.PersonSummary) (int, bool, error)
}

// Config controls fan-out.
type Config struct {
	ProgramConcurrency  int
	SnapshotConcurrency int
	// DryRun skips the dataset merge; summaries are still returned in the report.
	DryRun bool
}

// ProgramResult describes one processed program.
type ProgramResult struct {
	Program   tracker.Program
	Site      tracker.SiteID
	Pages     int
	Snapshots int
	Summaries []tracker.PersonSummary
	Version   int
	Written   bool
	Err       error
}

// Report collects the results of a run in program order.
type Report struct {
	Results []ProgramResult
}

// Failed counts programs that ended with an error.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Orchestrator sequences discovery, resolution, extraction, aggregation and persistence.
type Orchestrator struct {
	discoverer Discoverer
	resolver   Resolver
	pages      tracker.PageSource
	modules    Modules
	generator  Generator
	validator  Validator
	placement  Placement
	dataset    Dataset
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Orchestrator. generator, validator and placement may be nil.
func New(
	discoverer Discoverer,
	resolver Resolver,
	pages tracker.PageSource,
	modules Modules,
	generator Generator,
	validator Validator,
	placement Placement,
	dataset Dataset,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.ProgramConcurrency <= 0 {
		cfg.ProgramConcurrency = 1
	}
	if cfg.SnapshotConcurrency <= 0 {
		cfg.SnapshotConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		discoverer: discoverer,
		resolver:   resolver,
		pages:      pages,
		modules:    modules,
		generator:  generator,
		validator:  validator,
		placement:  placement,
		dataset:    dataset,
		cfg:        cfg,
		logger:     logger.Named("pipeline"),
	}
}

// Run processes every program. A failing program is recorded in the report and never stops the
// others; only cancellation of ctx ends the run early.
func (o *Orchestrator) Run(ctx context.Context, programs []tracker.Program) (Report, error) {
	results := make([]ProgramResult, len(programs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ProgramConcurrency)

	for i, p := range programs {
		g.Go(func() error {
			res := o.RunProgram(gctx, p)
			results[i] = res
			outcome := "ok"
			if res.Err != nil {
				outcome = "failed"
				o.logger.Error("program failed", zap.String("url", p.BaseURL), zap.Error(res.Err))
			}
			metrics.ObserveProgram(outcome)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run canceled: %w", err)
	}
	o.logger.Info("run finished", zap.Int("programs", len(programs)), zap.Int("failed", report.Failed()))
	return report, nil
}

// RunProgram processes a single program end to end.
func (o *Orchestrator) RunProgram(ctx context.Context, p tracker.Program) ProgramResult {
	site := p.Site()
	res := ProgramResult{Program: p, Site: site}
	log := o.logger.With(zap.String("site", string(site)), zap.String("url", p.BaseURL))

	pages := o.discoverer.Discover(ctx, p.BaseURL)
	res.Pages = len(pages)

	var observations []tracker.Observation
	ensured := false
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		snapshots := o.resolver.Resolve(ctx, page)
		res.Snapshots += len(snapshots)
		if !ensured {
			ensured = true
			o.ensureModule(ctx, log, site, snapshots)
		}
		obs, err := o.extractAll(ctx, p, site, snapshots)
		if err != nil {
			res.Err = err
			return res
		}
		observations = append(observations, obs...)
	}

	summaries := aggregate.Aggregate(observations)
	if o.placement != nil {
		summaries = o.placement.Mark(ctx, p.PlacementURL, summaries)
	}
	res.Summaries = summaries
	log.Info("program aggregated",
		zap.Int("pages", res.Pages),
		zap.Int("snapshots", res.Snapshots),
		zap.Int("observations", len(observations)),
		zap.Int("people", len(summaries)),
	)

	if o.cfg.DryRun || o.dataset == nil || len(summaries) == 0 {
		return res
	}
	res.Version, res.Written, res.Err = o.dataset.MergeAndPersist(ctx, summaries)
	return res
}

// ensureModule seeds module generation from the live snapshot. Failure leaves the existing module
// (if any) in place; snapshots it cannot handle then contribute nothing.
func (o *Orchestrator) ensureModule(ctx context.Context, log *zap.Logger, site tracker.SiteID, snapshots []tracker.Snapshot) {
	if o.generator == nil || len(snapshots) == 0 {
		return
	}
	seed := snapshots[len(snapshots)-1]
	for _, s := range snapshots {
		if s.Live {
			seed = s
		}
	}
	sample := o.pages.Fetch(ctx, seed.URL)
	if sample == "" {
		log.Warn("no sample page for module check", zap.String("snapshot", seed.URL))
		return
	}
	if err := o.generator.EnsureValid(ctx, site, sample); err != nil {
		var svcErr *tracker.ExternalServiceError
		switch {
		case errors.As(err, &svcErr):
			log.Error("code generation service unavailable", zap.Error(err))
		case errors.Is(err, tracker.ErrGenerationExhausted):
			log.Warn("no valid module could be generated", zap.Error(err))
		default:
			log.Warn("module check failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) extractAll(
	ctx context.Context,
	p tracker.Program,
	site tracker.SiteID,
	snapshots []tracker.Snapshot,
) ([]tracker.Observation, error) {
	perSnapshot := make([][]tracker.Observation, len(snapshots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.SnapshotConcurrency)

	var mu sync.Mutex
	failures := 0
	for i, snap := range snapshots {
		g.Go(func() error {
			obs, outcome := o.extract(gctx, p, site, snap)
			perSnapshot[i] = obs
			metrics.ObserveSnapshot(string(site), outcome, len(obs))
			if outcome != "ok" && outcome != "partial" {
				mu.Lock()
				failures++
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failures > 0 {
		o.logger.Debug("snapshots without names",
			zap.String("site", string(site)),
			zap.Int("failed", failures),
			zap.Int("total", len(snapshots)),
		)
	}

	var out []tracker.Observation
	for _, obs := range perSnapshot {
		out = append(out, obs...)
	}
	return out, nil
}

func (o *Orchestrator) extract(
	ctx context.Context,
	p tracker.Program,
	site tracker.SiteID,
	snap tracker.Snapshot,
) ([]tracker.Observation, string) {
	html := o.pages.Fetch(ctx, snap.URL)
	if html == "" {
		return nil, "empty"
	}
	names, err := o.modules.Invoke(ctx, site, html)
	if err != nil {
		o.logger.Debug("extraction failed", zap.String("snapshot", snap.URL), zap.Error(err))
		return nil, "module_error"
	}
	outcome := "ok"
	if o.validator != nil {
		kept, rejected := o.filterNames(html, names)
		if len(kept) == 0 || len(rejected) > len(kept) {
			o.logger.Debug("snapshot names rejected",
				zap.String("snapshot", snap.URL),
				zap.Int("kept", len(kept)),
				zap.Strings("rejected", rejected),
			)
			return nil, "invalid"
		}
		if len(rejected) > 0 {
			o.logger.Debug("dropped implausible names", zap.String("snapshot", snap.URL), zap.Strings("rejected", rejected))
			outcome = "partial"
		}
		names = kept
	}

	department, university := site.Parts()
	if p.DisplayName != "" {
		university = p.DisplayName
	}
	out := make([]tracker.Observation, 0, len(names))
	for _, name := range names {
		out = append(out, tracker.Observation{
			Name:       name,
			University: university,
			Department: department,
			SourceURL:  snap.URL,
			CapturedAt: snap.CapturedAt,
			Active:     snap.Live,
		})
	}
	return out, outcome
}

// filterNames splits names into those the validator accepts and those it rejects.
func (o *Orchestrator) filterNames(html string, names []string) (kept, rejected []string) {
	for _, name := range names {
		if err := o.validator.Validate(html, []string{name}); err != nil {
			rejected = append(rejected, name)
			continue
		}
		kept = append(kept, name)
	}
	return kept, rejected
}
