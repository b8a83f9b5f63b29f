// Package requirements decides whether a participant snapshot satisfies a
// challenge and computes what completing it would consume.
package requirements

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// CompletionReader gives read-only access to completion counts
type CompletionReader interface {
	GetCount(ctx context.Context, key models.ProgressKey) (int, error)
}

// Evaluation is the outcome of checking every requirement of a challenge
type Evaluation struct {
	Satisfied bool
	Missing   []models.Requirement
	Plan      models.ConsumptionPlan
}

// Evaluator checks requirements. Apart from cross-challenge lookups through
// the CompletionReader it performs no I/O and mutates nothing.
type Evaluator struct {
	completions CompletionReader
}

// NewEvaluator creates an evaluator. completions may be nil when no
// challenge uses cross-challenge requirements.
func NewEvaluator(completions CompletionReader) *Evaluator {
	return &Evaluator{completions: completions}
}

// Evaluate checks all requirements of challenge for participant against snap
func (e *Evaluator) Evaluate(ctx context.Context, participant string, challenge *models.Challenge, snap *models.Snapshot) (*Evaluation, error) {
	result := &Evaluation{}

	// Several requirements may consume the same item; together they must
	// still fit in the inventory.
	consumed := map[string]int{}
	for _, req := range challenge.Requirements {
		if r, ok := req.(models.ItemRequirement); ok && r.Consume {
			consumed[r.Item] += r.Quantity
		}
	}

	for _, req := range challenge.Requirements {
		var ok bool
		switch r := req.(type) {
		case models.ItemRequirement:
			held := snap.ItemCount(r.Item)
			ok = held >= r.Quantity && (!r.Consume || held >= consumed[r.Item])
		case models.StatisticRequirement:
			ok = snap.Statistic(r.Statistic) >= r.Value
		case models.LocationRequirement:
			ok = locationMatches(r, snap)
		case models.ChallengeCompletedRequirement:
			if e.completions == nil {
				return nil, fmt.Errorf("challenge requirement %s: no completion reader configured", r.Challenge)
			}
			key := models.ProgressKey{Participant: participant, World: challenge.World, Challenge: r.Challenge}
			count, err := e.completions.GetCount(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to read completions of %s: %w", r.Challenge, err)
			}
			ok = count >= r.Count
		default:
			return nil, fmt.Errorf("unsupported requirement kind %q", req.Kind())
		}
		if !ok {
			result.Missing = append(result.Missing, req)
		}
	}

	result.Satisfied = len(result.Missing) == 0
	if result.Satisfied && len(consumed) > 0 {
		result.Plan.Items = consumed
	}
	return result, nil
}

func locationMatches(r models.LocationRequirement, snap *models.Snapshot) bool {
	if snap == nil || snap.Location == nil {
		return false
	}
	loc := snap.Location
	if r.Region != "" {
		return strings.EqualFold(loc.Region, r.Region)
	}
	if r.World != "" && !strings.EqualFold(loc.World, r.World) {
		return false
	}
	dx, dy, dz := loc.X-r.X, loc.Y-r.Y, loc.Z-r.Z
	return math.Sqrt(dx*dx+dy*dy+dz*dz) <= r.Radius
}
