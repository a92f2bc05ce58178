// Package generator writes and repairs extraction rules with a code generation service.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/extract"
	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/retry"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// Modules is the part of the extraction registry the generator needs.
type Modules interface {
	Lock(site tracker.SiteID) func()
	Get(ctx context.Context, site tracker.SiteID) (extract.Extractor, error)
	Put(ctx context.Context, site tracker.SiteID, source []byte) error
}

// Validator judges the names a candidate rule extracted.
type Validator interface {
	Validate(source string, names []string) error
}

// Config bounds the repair loop.
type Config struct {
	ChunkSize       int
	ChunkCount      int
	MaxIterations   int
	MaxHistoryChars int
	// ServiceAttempts bounds calls per iteration when the service fails transiently.
	ServiceAttempts int
	ServiceDelay    time.Duration
}

// DefaultConfig returns the stock bounds.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       1000,
		ChunkCount:      10,
		MaxIterations:   30,
		MaxHistoryChars: 100_000,
		ServiceAttempts: 5,
		ServiceDelay:    2 * time.Second,
	}
}

// Generator produces a validated extraction rule for a site.
type Generator struct {
	modules   Modules
	validator Validator
	service   Service
	prompts   *Prompts
	cfg       Config
	policy    *retry.ExponentialPolicy
	logger    *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs a Generator. A nil rng is seeded from the clock.
func New(
	modules Modules,
	validator Validator,
	service Service,
	prompts *Prompts,
	rng *rand.Rand,
	cfg Config,
	logger *zap.Logger,
) *Generator {
	defaults := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.ChunkCount <= 0 {
		cfg.ChunkCount = defaults.ChunkCount
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxHistoryChars <= 0 {
		cfg.MaxHistoryChars = defaults.MaxHistoryChars
	}
	if cfg.ServiceAttempts <= 0 {
		cfg.ServiceAttempts = defaults.ServiceAttempts
	}
	if cfg.ServiceDelay <= 0 {
		cfg.ServiceDelay = defaults.ServiceDelay
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.NewExponentialPolicy(tracker.IsTransientServiceError)
	policy.MaxAttempts = cfg.ServiceAttempts
	policy.InitialDelay = cfg.ServiceDelay
	policy.MaxDelay = time.Minute
	return &Generator{
		modules:   modules,
		validator: validator,
		service:   service,
		prompts:   prompts,
		cfg:       cfg,
		policy:    policy,
		logger:    logger.Named("generator"),
		rng:       rng,
	}
}

// EnsureValid makes sure site has a module whose output on sample passes validation.
// An existing valid module is left alone. Otherwise rules are generated and repaired until one
// validates, which is then persisted. Nothing is persisted for a candidate that fails validation.
func (g *Generator) EnsureValid(ctx context.Context, site tracker.SiteID, sample string) error {
	unlock := g.modules.Lock(site)
	defer unlock()

	log := g.logger.With(zap.String("site", string(site)))
	existing := g.checkExisting(ctx, site, sample)
	if existing == nil {
		return nil
	}
	log.Info("generating extraction rule", zap.Error(existing))

	conv, err := g.seed(sample)
	if err != nil {
		return err
	}
	seeds := 1

	for iteration := 1; iteration <= g.cfg.MaxIterations; iteration++ {
		metrics.ObserveGenerationIteration(string(site))

		reply, err := g.complete(ctx, log, conv)
		if err != nil {
			var svcErr *tracker.ExternalServiceError
			if errors.As(err, &svcErr) {
				metrics.ObserveGenerationOutcome("service_error")
				log.Error("code generation service failed", zap.Error(err))
			}
			return fmt.Errorf("generate rule for %s: %w", site, err)
		}

		rule := CropFenced(reply)
		names, failure := g.try(rule, sample)
		if failure == nil {
			if err := g.modules.Put(ctx, site, []byte(rule)); err != nil {
				metrics.ObserveGenerationOutcome("persist_error")
				return fmt.Errorf("persist rule for %s: %w", site, err)
			}
			metrics.ObserveGenerationOutcome("generated")
			log.Info("extraction rule accepted", zap.Int("iteration", iteration), zap.Int("names", len(names)))
			return nil
		}
		log.Debug("candidate rejected", zap.Int("iteration", iteration), zap.Error(failure))

		repair, err := g.prompts.RepairMessage(rule, failure, names, g.sample(sample))
		if err != nil {
			return err
		}
		conv = conv.Append(assistantMessage(reply), userMessage(repair))
		if conv.Size() > g.cfg.MaxHistoryChars {
			if conv, err = g.seed(sample); err != nil {
				return err
			}
			seeds++
			log.Debug("conversation resampled", zap.Int("seeds", seeds))
		}
	}

	metrics.ObserveGenerationOutcome("exhausted")
	log.Warn("rule generation exhausted", zap.Int("iterations", g.cfg.MaxIterations))
	return fmt.Errorf("%s after %d iterations: %w", site, g.cfg.MaxIterations, tracker.ErrGenerationExhausted)
}

// complete asks the service for the next reply, repeating transient failures up to the policy bound.
func (g *Generator) complete(ctx context.Context, log *zap.Logger, conv Conversation) (string, error) {
	onRetry := func(attempt int, err error, delay time.Duration) {
		metrics.ObserveServiceCall("retry")
		log.Warn("code generation service failed; retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	reply, _, err := retry.Do(ctx, g.policy, onRetry, func(ctx context.Context) (string, error) {
		return g.service.Complete(ctx, conv)
	})
	return reply, err
}

// checkExisting returns nil when the current module validates against sample.
func (g *Generator) checkExisting(ctx context.Context, site tracker.SiteID, sample string) error {
	ex, err := g.modules.Get(ctx, site)
	if err != nil {
		return err
	}
	names, err := extract.Run(ex, sample)
	if err != nil {
		return &tracker.ModuleError{Site: site, Kind: tracker.ModuleExecute, Err: err}
	}
	return g.validator.Validate(sample, names)
}

// try compiles the candidate and runs it against the full document.
func (g *Generator) try(rule, sample string) ([]string, error) {
	ex, err := extract.Compile([]byte(rule))
	if err != nil {
		return nil, err
	}
	names, err := extract.Run(ex, sample)
	if err != nil {
		return nil, err
	}
	if err := g.validator.Validate(sample, names); err != nil {
		return names, err
	}
	return names, nil
}

func (g *Generator) seed(sample string) (Conversation, error) {
	generate, err := g.prompts.GenerateMessage(g.sample(sample))
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{}.Resample(userMessage(g.prompts.Setup), userMessage(generate)), nil
}

func (g *Generator) sample(doc string) []string {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return SampleChunks(g.rng, doc, g.cfg.ChunkSize, g.cfg.ChunkCount)
}
