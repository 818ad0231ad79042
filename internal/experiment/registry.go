package experiment

import (
	"fmt"
	"sort"

	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/integrators"
	"github.com/soren-falk/roalab/internal/physics"
)

// Registry maps the names used in configs to concrete constructors, so the
// CLI can assemble an experiment from strings alone.
type Registry struct {
	models      map[string]func() dynamo.System
	integrators map[string]func() dynamo.Integrator
}

func NewRegistry() *Registry {
	return &Registry{
		models: map[string]func() dynamo.System{
			"pendulum": func() dynamo.System { return physics.NewInvertedPendulum() },
			"cartpole": func() dynamo.System { return physics.NewCartPole() },
		},
		integrators: map[string]func() dynamo.Integrator{
			"euler": func() dynamo.Integrator { return integrators.NewEuler() },
			"rk4":   func() dynamo.Integrator { return integrators.NewRK4() },
		},
	}
}

func (r *Registry) Model(name string) (dynamo.System, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("experiment: unknown model %q (have %v)", name, r.ModelNames())
	}
	return fn(), nil
}

// IntegratorFactory returns a constructor rather than an instance because
// integrators keep scratch buffers and every worker needs its own.
func (r *Registry) IntegratorFactory(name string) (func() dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("experiment: unknown integrator %q (have %v)", name, r.IntegratorNames())
	}
	return fn, nil
}

func (r *Registry) RegisterModel(name string, fn func() dynamo.System) {
	r.models[name] = fn
}

func (r *Registry) RegisterIntegrator(name string, fn func() dynamo.Integrator) {
	r.integrators[name] = fn
}

func (r *Registry) ModelNames() []string {
	return sortedKeys(r.models)
}

func (r *Registry) IntegratorNames() []string {
	return sortedKeys(r.integrators)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
