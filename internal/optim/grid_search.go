package optim

import (
	"context"
	"math"
)

// GridSearch sweeps hyperparameter combinations and keeps the best trial.
// Trials score higher-is-better (certified ROA fraction, typically).
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges}
}

// Search runs the trial function for every combination and returns the best
// parameters with their score. Trials that error are skipped.
func (g *GridSearch) Search(
	ctx context.Context,
	trial func(ctx context.Context, params map[string]float64) (float64, error),
) (map[string]float64, float64, error) {

	best := math.Inf(-1)
	var bestParams map[string]float64

	err := g.searchRecursive(ctx, 0, make(map[string]float64), trial, &best, &bestParams)
	if err != nil {
		return nil, 0, err
	}

	return bestParams, best, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	trial func(ctx context.Context, params map[string]float64) (float64, error),
	best *float64,
	bestParams *map[string]float64,
) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if depth == len(g.paramNames) {
		score, err := trial(ctx, current)
		if err != nil {
			return nil
		}

		if score > *best {
			*best = score
			*bestParams = make(map[string]float64)
			for k, v := range current {
				(*bestParams)[k] = v
			}
		}
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, trial, best, bestParams); err != nil {
			return err
		}
	}
	return nil
}
