package evo

import (
	"fmt"
	"math/rand"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
)

// Scorer assigns a fitness in [0, 1] to a tree.
type Scorer interface {
	Fitness(tree *expr.Node) (float64, error)
}

// ScoredTree pairs a tree with its fitness.
type ScoredTree struct {
	Tree    *expr.Node
	Fitness float64
}

// TournamentResult holds the two fittest entrants of a tournament together
// with the scores of every entrant.
type TournamentResult struct {
	Best    ScoredTree
	Second  ScoredTree
	Entries []ScoredTree
}

// DrawEntrants removes size individuals from pool, each drawn uniformly from
// those remaining, and returns them in draw order along with what is left of
// the pool. The removed slot is filled by the last individual, so the
// remaining pool is reordered.
func DrawEntrants(rng *rand.Rand, pool []*expr.Node, size int) ([]*expr.Node, []*expr.Node, error) {
	if rng == nil {
		return nil, pool, fmt.Errorf("random source is required")
	}
	if size <= 0 || size > len(pool) {
		return nil, pool, fmt.Errorf("tournament size %d invalid for pool of %d", size, len(pool))
	}
	entrants := make([]*expr.Node, 0, size)
	for i := 0; i < size; i++ {
		idx := rng.Intn(len(pool))
		entrants = append(entrants, pool[idx])
		last := len(pool) - 1
		pool[idx] = pool[last]
		pool[last] = nil
		pool = pool[:last]
	}
	return entrants, pool, nil
}

// SelectParents scores entrants in order and keeps the two fittest. A new
// best demotes the previous best to second, and ties keep the earlier
// entrant.
func SelectParents(entrants []*expr.Node, scorer Scorer) (TournamentResult, error) {
	if len(entrants) < 2 {
		return TournamentResult{}, fmt.Errorf("tournament requires at least 2 entrants, got %d", len(entrants))
	}
	if scorer == nil {
		return TournamentResult{}, fmt.Errorf("scorer is required")
	}
	result := TournamentResult{Entries: make([]ScoredTree, 0, len(entrants))}
	bestIdx, secondIdx := -1, -1
	for i, tree := range entrants {
		fitness, err := scorer.Fitness(tree)
		if err != nil {
			return TournamentResult{}, err
		}
		result.Entries = append(result.Entries, ScoredTree{Tree: tree, Fitness: fitness})
		switch {
		case bestIdx < 0 || fitness > result.Entries[bestIdx].Fitness:
			secondIdx = bestIdx
			bestIdx = i
		case secondIdx < 0 || fitness > result.Entries[secondIdx].Fitness:
			secondIdx = i
		}
	}
	result.Best = result.Entries[bestIdx]
	result.Second = result.Entries[secondIdx]
	if result.Second.Fitness > result.Best.Fitness {
		result.Best, result.Second = result.Second, result.Best
	}
	return result, nil
}

// TournamentSelection draws size entrants out of pool without replacement and
// returns the two fittest along with the remaining pool.
func TournamentSelection(rng *rand.Rand, pool []*expr.Node, size int, scorer Scorer) (TournamentResult, []*expr.Node, error) {
	entrants, rest, err := DrawEntrants(rng, pool, size)
	if err != nil {
		return TournamentResult{}, pool, err
	}
	result, err := SelectParents(entrants, scorer)
	if err != nil {
		return TournamentResult{}, rest, err
	}
	return result, rest, nil
}
