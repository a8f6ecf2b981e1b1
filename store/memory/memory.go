// Package memory provides in-memory store implementations (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/comp-engine/engine"
)

// =============================================================================
// MEMORY RUN STORE
// =============================================================================

// Runs keeps finished run results in memory. Results are stored by value so
// later mutation by the caller never leaks into the store.
type Runs struct {
	mu      sync.RWMutex
	results map[string]engine.RunResult
}

func NewRuns() *Runs {
	return &Runs{results: make(map[string]engine.RunResult)}
}

func (r *Runs) SaveRun(_ context.Context, result *engine.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.RunID] = *result
	return nil
}

func (r *Runs) GetRun(_ context.Context, runID string) (*engine.RunResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.results[runID]
	if !ok {
		return nil, engine.ErrRunNotFound
	}
	return &result, nil
}

// ListRuns returns run summaries, most recent first.
func (r *Runs) ListRuns(_ context.Context) ([]engine.RunSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]engine.RunSummary, 0, len(r.results))
	for _, result := range r.results {
		summaries = append(summaries, engine.Summarize(&result))
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].RunID < summaries[j].RunID
	})
	return summaries, nil
}

// =============================================================================
// MEMORY PARAMETER REPOSITORY
// =============================================================================

// Parameters keeps parameter versions in memory, ordered by effective date.
type Parameters struct {
	mu   sync.RWMutex
	sets []engine.ParameterSet
}

func NewParameters() *Parameters {
	return &Parameters{}
}

func (p *Parameters) SaveParameterSet(_ context.Context, ps engine.ParameterSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := sort.Search(len(p.sets), func(i int) bool {
		return p.sets[i].EffectiveFrom.After(ps.EffectiveFrom)
	})
	p.sets = append(p.sets, engine.ParameterSet{})
	copy(p.sets[i+1:], p.sets[i:])
	p.sets[i] = ps
	return nil
}

func (p *Parameters) LoadParameterSets(_ context.Context) ([]engine.ParameterSet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]engine.ParameterSet, len(p.sets))
	copy(out, p.sets)
	return out, nil
}

var (
	_ engine.RunStore            = (*Runs)(nil)
	_ engine.ParameterRepository = (*Parameters)(nil)
)
