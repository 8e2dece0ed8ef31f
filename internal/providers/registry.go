package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/hermit/internal/config"
)

// Registry resolves model strings and job classes to registered providers.
//
// Model strings may carry a provider prefix ("openai/gpt-4o"); bare model
// names route to the default provider. Job classes resolve through the
// configured job-model map before the provider lookup.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	limiters     map[string]*rate.Limiter
	defaultName  string
	primaryModel string
	jobModels    config.JobModelsConfig
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Register adds a provider under its own name. The first registered provider
// becomes the default until SetDefault says otherwise.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
}

// SetRateLimit installs a client-side token bucket for the named provider.
// rps <= 0 removes the limit.
func (r *Registry) SetRateLimit(name string, rps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rps <= 0 {
		delete(r.limiters, name)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	r.limiters[name] = rate.NewLimiter(rate.Limit(rps), burst)
}

// SetDefault sets the default provider and the primary model used when job
// routing falls through.
func (r *Registry) SetDefault(providerName, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if providerName != "" {
		r.defaultName = providerName
	}
	r.primaryModel = model
}

// SetJobModels installs the job-class routing table.
func (r *Registry) SetJobModels(jm config.JobModelsConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobModels = jm
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryModel returns the configured primary model, or the default
// provider's default model when unset.
func (r *Registry) PrimaryModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.primaryModel != "" {
		return r.primaryModel
	}
	if p, ok := r.providers[r.defaultName]; ok {
		return p.DefaultModel()
	}
	return ""
}

// ModelForJob resolves the model for a job class (config.Job* constants).
// ok=false means the job has no model and should be skipped.
func (r *Registry) ModelForJob(job string) (string, bool) {
	r.mu.RLock()
	jm := r.jobModels
	r.mu.RUnlock()

	model := jm.ModelForJob(job, r.PrimaryModel())
	return model, model != ""
}

// Resolve maps a model string to a provider and the bare model name.
// "provider/model" selects the named provider when registered; anything else
// goes to the default provider unchanged (OpenRouter-style vendor-prefixed
// IDs pass through).
func (r *Registry) Resolve(model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return nil, "", fmt.Errorf("no providers registered")
	}

	if before, after, found := strings.Cut(model, "/"); found {
		if p, ok := r.providers[before]; ok {
			return p, after, nil
		}
	}

	if p, ok := r.providers[r.defaultName]; ok {
		return p, model, nil
	}
	return nil, "", fmt.Errorf("no provider for model %q", model)
}

// ProviderFor returns the name of the provider that would serve the model,
// or "" when nothing resolves. An empty model means the primary.
func (r *Registry) ProviderFor(model string) string {
	if model == "" {
		model = r.PrimaryModel()
	}
	p, _, err := r.Resolve(model)
	if err != nil {
		return ""
	}
	return p.Name()
}

// Chat resolves the model, waits on the provider's rate limiter, and calls
// it. An empty model uses the primary. Failures wrap as *ModelFailure.
func (r *Registry) Chat(ctx context.Context, model string, req ChatRequest) (*ChatResponse, error) {
	if model == "" {
		model = r.PrimaryModel()
	}

	p, bare, err := r.Resolve(model)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	limiter := r.limiters[p.Name()]
	r.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &ModelFailure{Provider: p.Name(), Model: bare, Err: err}
		}
	}

	req.Model = bare
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, &ModelFailure{Provider: p.Name(), Model: bare, Err: err}
	}
	return resp, nil
}
