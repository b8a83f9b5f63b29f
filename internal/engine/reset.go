package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

// ResetOne clears the completions of one challenge so it can be attempted
// again. Previously granted rewards are kept.
func (e *Engine) ResetOne(ctx context.Context, participant, world, challengeName, actor string) error {
	ctx, span := tracer.Start(ctx, "engine.ResetOne")
	defer span.End()

	challenge, err := e.catalog.Get(world, challengeName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownChallenge, challengeName)
		}
		return fmt.Errorf("failed to load challenge: %w", err)
	}

	key := models.ProgressKey{Participant: participant, World: world, Challenge: challenge.Name}
	unlock, err := e.lock(ctx, key)
	if err != nil {
		return err
	}
	err = e.store.ResetOne(ctx, key, actor)
	unlock()

	if err != nil {
		if errors.Is(err, storage.ErrStorage) {
			slog.Error("failed to reset progress", "key", key.String(), "actor", actor, "error", err)
		}
		return err
	}

	e.bus.Publish(ctx, models.Event{
		ID:          uuid.NewString(),
		Type:        models.EventChallengeReset,
		Participant: participant,
		World:       world,
		Challenge:   challenge.Name,
		Cleared:     1,
		Actor:       actor,
		OccurredAt:  e.now().UTC(),
	})
	return nil
}

// ResetAll clears every completion of a participant in a world and returns
// how many records were cleared
func (e *Engine) ResetAll(ctx context.Context, participant, world, actor string) (int, error) {
	ctx, span := tracer.Start(ctx, "engine.ResetAll")
	defer span.End()

	cleared, err := e.store.ResetAll(ctx, participant, world, actor)
	if err != nil {
		slog.Error("failed to reset all progress", "participant", participant, "world", world, "actor", actor, "error", err)
		return 0, err
	}

	e.bus.Publish(ctx, models.Event{
		ID:          uuid.NewString(),
		Type:        models.EventChallengeReset,
		Participant: participant,
		World:       world,
		Cleared:     cleared,
		Actor:       actor,
		OccurredAt:  e.now().UTC(),
	})
	return cleared, nil
}

// Progress lists the stored records of a participant in a world
func (e *Engine) Progress(ctx context.Context, participant, world string) ([]models.ProgressRecord, error) {
	return e.store.List(ctx, participant, world)
}

// ResetHistory lists the audit trail of resets for a participant
func (e *Engine) ResetHistory(ctx context.Context, participant, world string) ([]models.ResetAudit, error) {
	return e.store.ListResetAudit(ctx, participant, world)
}
