// Package engine decides and records challenge completions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/events"
	"github.com/terra-clan/challenge-engine/internal/keylock"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/requirements"
	"github.com/terra-clan/challenge-engine/internal/services"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

var tracer = otel.Tracer("github.com/terra-clan/challenge-engine/internal/engine")

// Catalog is the read side of the challenge definitions
type Catalog interface {
	Get(world, name string) (*models.Challenge, error)
	GetLevel(world, name string) (*models.Level, error)
	ListLevels(world string) []*models.Level
	ListByLevel(world, level string) []*models.Challenge
}

// Engine orchestrates completion attempts and resets
type Engine struct {
	cfg       config.EngineConfig
	catalog   Catalog
	store     storage.ProgressStore
	evaluator *requirements.Evaluator
	mutator   services.StateMutator
	granter   services.RewardGranter
	locker    keylock.Locker
	bus       *events.Bus
	now       func() time.Time
}

// NewEngine creates an engine. A nil locker falls back to an in-process
// locker, a nil bus to a private one.
func NewEngine(
	cfg config.EngineConfig,
	defs Catalog,
	store storage.ProgressStore,
	mutator services.StateMutator,
	granter services.RewardGranter,
	locker keylock.Locker,
	bus *events.Bus,
) *Engine {
	if locker == nil {
		locker = keylock.NewLocal()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	e := &Engine{
		cfg:       cfg,
		catalog:   defs,
		store:     store,
		evaluator: requirements.NewEvaluator(store),
		mutator:   mutator,
		granter:   granter,
		locker:    locker,
		bus:       bus,
		now:       time.Now,
	}
	bus.Subscribe(e.onChallengeCompleted)
	return e
}

// Bus returns the bus events are published on
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// AttemptCompletion runs one completion attempt to a terminal outcome.
// Policy rejections are returned as outcomes; only infrastructure failures
// are returned as errors.
func (e *Engine) AttemptCompletion(ctx context.Context, a Attempt) (*Result, error) {
	ctx, span := tracer.Start(ctx, "engine.AttemptCompletion", trace.WithAttributes(
		attribute.String("world", a.World),
		attribute.String("participant", a.Participant),
		attribute.String("challenge", a.Challenge),
	))
	defer span.End()

	res, ev, err := e.attempt(ctx, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))

	// best-effort, outside the key lock
	if ev != nil {
		e.bus.Publish(ctx, *ev)
	}
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, a Attempt) (*Result, *models.Event, error) {
	challenge, err := e.catalog.Get(a.World, a.Challenge)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return &Result{Outcome: OutcomeUnknownChallenge, Challenge: models.QualifiedName(a.World, a.Challenge)}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if challenge.Deactivated {
		return &Result{Outcome: OutcomeDeactivated, Challenge: challenge.Name}, nil, nil
	}

	actor := a.Actor
	if actor == "" {
		actor = a.Participant
	}
	key := models.ProgressKey{Participant: a.Participant, World: a.World, Challenge: challenge.Name}

	unlock, err := e.lock(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	count, err := e.store.GetCount(ctx, key)
	if err != nil {
		slog.Error("failed to read completion count", "key", key.String(), "error", err)
		return nil, nil, err
	}
	if !challenge.Repeatable && count >= 1 {
		return &Result{Outcome: OutcomeAlreadyCompleted, Challenge: challenge.Name, NewCount: count}, nil, nil
	}
	if challenge.Repeatable && challenge.MaxRepeats > 0 && count >= challenge.MaxRepeats {
		return &Result{Outcome: OutcomeAlreadyAtMax, Challenge: challenge.Name, NewCount: count}, nil, nil
	}

	if challenge.Level != "" {
		unlocked, err := e.levelUnlocked(ctx, a.Participant, a.World, challenge.Level)
		if err != nil {
			return nil, nil, err
		}
		if !unlocked {
			return &Result{Outcome: OutcomeLevelLocked, Challenge: challenge.Name, NewCount: count, Level: challenge.Level}, nil, nil
		}
	}

	eval, err := e.evaluator.Evaluate(ctx, a.Participant, challenge, a.Snapshot)
	if err != nil {
		if errors.Is(err, storage.ErrStorage) {
			slog.Error("failed to evaluate requirements", "key", key.String(), "error", err)
		}
		return nil, nil, fmt.Errorf("failed to evaluate requirements: %w", err)
	}
	if !eval.Satisfied {
		return &Result{Outcome: OutcomeUnsatisfied, Challenge: challenge.Name, NewCount: count, Missing: eval.Missing}, nil, nil
	}

	res := &Result{Challenge: challenge.Name, AttemptID: uuid.NewString()}

	plan := eval.Plan
	plan.AttemptID = res.AttemptID
	if !plan.Empty() {
		if e.mutator == nil {
			return nil, nil, fmt.Errorf("%w: no state mutator configured", ErrConsumption)
		}
		if err := e.mutator.ApplyConsumption(ctx, a.Participant, a.World, plan); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConsumption, err)
		}
		res.ConsumptionApplied = true
	}

	rec, err := e.store.IncrementCompletion(ctx, key, challenge.CompletionLimit(), actor)
	if errors.Is(err, storage.ErrExhausted) {
		// only reachable when another writer bypassed the key lock
		if res.ConsumptionApplied {
			slog.Warn("consumption applied but completion limit already reached",
				"key", key.String(), "attempt_id", res.AttemptID)
		}
		res.Outcome = OutcomeAlreadyAtMax
		if !challenge.Repeatable {
			res.Outcome = OutcomeAlreadyCompleted
		}
		res.NewCount = challenge.CompletionLimit()
		return res, nil, nil
	}
	if err != nil {
		slog.Error("failed to record completion", "key", key.String(),
			"attempt_id", res.AttemptID, "consumption_applied", res.ConsumptionApplied, "error", err)
		return nil, nil, err
	}

	res.Outcome = OutcomeCompleted
	res.NewCount = rec.CompletionCount
	res.Record = rec
	res.Rewards = rewardsFor(challenge, rec.CompletionCount)
	if err := e.grant(ctx, a.Participant, a.World, res.Rewards); err != nil {
		slog.Error("failed to grant rewards", "key", key.String(), "count", rec.CompletionCount, "error", err)
		res.GrantErr = err
	}

	ev := &models.Event{
		ID:          uuid.NewString(),
		Type:        models.EventChallengeCompleted,
		Participant: a.Participant,
		World:       a.World,
		Challenge:   challenge.Name,
		Level:       challenge.Level,
		NewCount:    rec.CompletionCount,
		Actor:       actor,
		OccurredAt:  e.now().UTC(),
	}
	return res, ev, nil
}

func (e *Engine) lock(ctx context.Context, key models.ProgressKey) (func(), error) {
	lockCtx := ctx
	if e.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, e.cfg.LockTimeout)
		defer cancel()
	}
	unlock, err := e.locker.Lock(lockCtx, key.LockKey())
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrLock, key.String(), err)
	}
	return unlock, nil
}

// rewardsFor picks the grants for the completion that produced count.
// First-completion and repeat rewards are independent unless the challenge
// marks repeat rewards as excluding the first completion.
func rewardsFor(c *models.Challenge, count int) []models.Reward {
	var out []models.Reward
	if count == 1 {
		out = append(out, c.Rewards...)
		if c.RepeatExcludesFirst {
			return out
		}
	}
	return append(out, c.RepeatRewards...)
}

// grant hands out every reward and joins the failures
func (e *Engine) grant(ctx context.Context, participant, world string, rewards []models.Reward) error {
	if len(rewards) == 0 {
		return nil
	}
	if e.granter == nil {
		return fmt.Errorf("no reward granter configured")
	}

	var errs []error
	for _, r := range rewards {
		if err := e.granter.Grant(ctx, participant, world, r); err != nil {
			errs = append(errs, fmt.Errorf("grant %s %s x%d: %w", r.Type, r.ID, r.Amount, err))
		}
	}
	return errors.Join(errs...)
}
