package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	sha256hash "github.com/JakeFAU/rostertrack/internal/hash/sha256"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

const (
	rulePrefix      = "rules/"
	ruleContentType = "application/yaml"
)

// envelope is the persisted form of a generated rule.
type envelope struct {
	Checksum string `yaml:"checksum"`
	Source   string `yaml:"source"`
}

// Registry resolves a site to its extraction module. Persisted (generated) rules take precedence
// over shipped built-ins so a repaired module replaces a stale one.
type Registry struct {
	store    tracker.BlobStore
	hasher   tracker.Hasher
	builtins map[tracker.SiteID]Extractor
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[tracker.SiteID]Extractor

	locksMu sync.Mutex
	locks   map[tracker.SiteID]*sync.Mutex
}

// NewRegistry constructs a Registry. store may be nil, in which case only built-ins resolve.
// A nil hasher defaults to SHA-256.
func NewRegistry(
	store tracker.BlobStore,
	hasher tracker.Hasher,
	builtins map[tracker.SiteID]Extractor,
	logger *zap.Logger,
) *Registry {
	if hasher == nil {
		hasher = sha256hash.New()
	}
	if builtins == nil {
		builtins = map[tracker.SiteID]Extractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    store,
		hasher:   hasher,
		builtins: builtins,
		logger:   logger.Named("registry"),
		cache:    make(map[tracker.SiteID]Extractor),
		locks:    make(map[tracker.SiteID]*sync.Mutex),
	}
}

// RulePath is the blob path of a site's generated rule.
func RulePath(site tracker.SiteID) string {
	return rulePrefix + string(site) + ".yaml"
}

// Lock serializes module generation for one site. Call the returned func to release it.
func (r *Registry) Lock(site tracker.SiteID) func() {
	r.locksMu.Lock()
	l, ok := r.locks[site]
	if !ok {
		l = &sync.Mutex{}
		r.locks[site] = l
	}
	r.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Get returns the module for site. A site with neither a stored rule nor a built-in yields
// a *tracker.ModuleError of kind ModuleMissing.
func (r *Registry) Get(ctx context.Context, site tracker.SiteID) (Extractor, error) {
	r.mu.RLock()
	ex, ok := r.cache[site]
	r.mu.RUnlock()
	if ok {
		return ex, nil
	}

	ex, err := r.load(ctx, site)
	switch {
	case err == nil:
	case errors.Is(err, tracker.ErrObjectNotFound):
		builtin, ok := r.builtins[site]
		if !ok {
			return nil, &tracker.ModuleError{Site: site, Kind: tracker.ModuleMissing}
		}
		ex = builtin
	default:
		return nil, &tracker.ModuleError{Site: site, Kind: tracker.ModuleLoad, Err: err}
	}

	r.mu.Lock()
	r.cache[site] = ex
	r.mu.Unlock()
	return ex, nil
}

// Put compiles source and persists it as the module for site, replacing any previous one.
// Source that does not compile is rejected with a ModuleLoad error and nothing is written.
func (r *Registry) Put(ctx context.Context, site tracker.SiteID, source []byte) error {
	ex, err := Compile(source)
	if err != nil {
		return &tracker.ModuleError{Site: site, Kind: tracker.ModuleLoad, Err: err}
	}
	if r.store == nil {
		return fmt.Errorf("put rule %s: no rule store configured", site)
	}
	payload, err := yaml.Marshal(envelope{Checksum: r.hasher.Hash(source), Source: string(source)})
	if err != nil {
		return fmt.Errorf("encode rule envelope: %w", err)
	}
	if _, err := r.store.PutObject(ctx, RulePath(site), ruleContentType, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("store rule %s: %w", site, err)
	}

	r.mu.Lock()
	r.cache[site] = ex
	r.mu.Unlock()
	r.logger.Info("stored extraction rule", zap.String("site", string(site)), zap.Int("bytes", len(source)))
	return nil
}

// Invoke runs the module for site against html. Runtime failures, including panics, are returned
// as ModuleExecute errors.
func (r *Registry) Invoke(ctx context.Context, site tracker.SiteID, html string) ([]string, error) {
	ex, err := r.Get(ctx, site)
	if err != nil {
		return nil, err
	}
	names, err := Run(ex, html)
	if err != nil {
		return nil, &tracker.ModuleError{Site: site, Kind: tracker.ModuleExecute, Err: err}
	}
	return names, nil
}

func (r *Registry) load(ctx context.Context, site tracker.SiteID) (Extractor, error) {
	if r.store == nil {
		return nil, tracker.ErrObjectNotFound
	}
	raw, err := r.store.GetObject(ctx, RulePath(site))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := yaml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode rule envelope: %w", err)
	}
	if r.hasher.Hash([]byte(env.Source)) != env.Checksum {
		return nil, errors.New("rule checksum mismatch")
	}
	return Compile([]byte(env.Source))
}
