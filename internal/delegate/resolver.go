package delegate

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

// Match score weights. A multi-word phrase is a more specific signal than a
// single shared term.
const (
	phraseMatchScore = 2
	wordMatchScore   = 1
)

// Resolver selects the single best-matching worker for a task. Selection is
// deterministic: identical inputs always produce the same worker. The
// resolver has no side effects; assignment is the caller's job.
type Resolver struct {
	logger  *zap.Logger
	workers []*model.Worker
}

// NewResolver creates a resolver over a fixed worker pool. The pool is
// treated as read-only for the mission's duration.
func NewResolver(workers []*model.Worker, logger *zap.Logger) *Resolver {
	pool := make([]*model.Worker, len(workers))
	copy(pool, workers)

	// Sorting by name up front makes the final tie-break a no-op scan.
	sort.Slice(pool, func(i, j int) bool { return pool[i].Name < pool[j].Name })

	return &Resolver{
		logger:  logger.Named("delegation-resolver"),
		workers: pool,
	}
}

// KnownCapability reports whether any worker in the pool offers the tag.
// The orchestrator uses this to validate plans before execution.
func (r *Resolver) KnownCapability(tag string) bool {
	for _, w := range r.workers {
		if w.HasCapability(tag) {
			return true
		}
	}
	return false
}

// Workers returns the pool in resolver order.
func (r *Resolver) Workers() []*model.Worker {
	return append([]*model.Worker(nil), r.workers...)
}

// Resolve selects the best worker for the task:
//
//  1. hard filter on required capability
//  2. keyword overlap score against the task description
//  3. tie-break on specialization score (specialists over generalists)
//  4. tie-break on lexicographically smallest name
func (r *Resolver) Resolve(task *model.Task) (*model.Worker, error) {
	if len(r.workers) == 0 {
		return nil, ErrEmptyPool
	}

	var candidates []*model.Worker
	for _, w := range r.workers {
		if w.HasCapability(task.RequiredCapability) {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, &NoEligibleWorkerError{TaskID: task.ID, Capability: task.RequiredCapability}
	}

	tokens := tokenize(task.Description)
	normalized := normalize(task.Description)

	var best *model.Worker
	bestScore := -1
	for _, w := range candidates {
		score := matchScore(w, tokens, normalized)
		switch {
		case score > bestScore:
			best, bestScore = w, score
		case score == bestScore && w.SpecializationScore > best.SpecializationScore:
			best = w
		}
		// Equal score and equal specialization keeps the earlier worker,
		// which is the lexicographically smallest name by pool order.
	}

	r.logger.Debug("Resolved worker",
		zap.String("task_id", task.ID),
		zap.String("worker", best.Name),
		zap.Int("score", bestScore),
		zap.Int("candidates", len(candidates)))

	return best, nil
}

// matchScore counts distinct keyword matches between a worker profile and a
// task description.
func matchScore(w *model.Worker, tokens map[string]struct{}, normalized string) int {
	score := 0
	seen := make(map[string]struct{}, len(w.DescriptionKeywords))
	for _, keyword := range w.DescriptionKeywords {
		kw := normalize(keyword)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}

		if strings.Contains(kw, " ") {
			if strings.Contains(" "+normalized+" ", " "+kw+" ") {
				score += phraseMatchScore
			}
			continue
		}
		if _, ok := tokens[kw]; ok {
			score += wordMatchScore
		}
	}
	return score
}
