package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// LevelStatus derives the unlock state of every level in a world from the
// participant's completion records. Nothing here is stored.
func (e *Engine) LevelStatus(ctx context.Context, participant, world string) ([]models.LevelStatus, error) {
	levels := e.catalog.ListLevels(world)
	if len(levels) == 0 {
		return nil, nil
	}

	records, err := e.store.List(ctx, participant, world)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.IsComplete() {
			done[rec.Challenge] = true
		}
	}

	statuses := make([]models.LevelStatus, len(levels))
	index := make(map[string]int, len(levels))
	for i, lvl := range levels {
		st := models.LevelStatus{Level: lvl.Name, FriendlyName: lvl.FriendlyName}
		for _, c := range e.catalog.ListByLevel(world, lvl.Name) {
			if c.Deactivated {
				continue
			}
			st.Total++
			if done[c.Name] {
				st.Completed++
			}
		}
		st.Complete = st.Completed >= st.Total
		statuses[i] = st
		index[lvl.Name] = i
	}

	// The first level is always open. Others open once their prerequisite
	// (the previous level unless named) has at most Waiver challenges left.
	for i, lvl := range levels {
		if i == 0 {
			statuses[i].Unlocked = true
			continue
		}
		p := i - 1
		if lvl.PrerequisiteLevel != "" {
			p = index[lvl.PrerequisiteLevel]
		}
		prereq := statuses[p]
		statuses[i].Unlocked = prereq.Completed >= prereq.Total-lvl.Waiver
	}
	return statuses, nil
}

func (e *Engine) levelUnlocked(ctx context.Context, participant, world, level string) (bool, error) {
	statuses, err := e.LevelStatus(ctx, participant, world)
	if err != nil {
		return false, err
	}
	for _, st := range statuses {
		if st.Level == level {
			return st.Unlocked, nil
		}
	}
	return true, nil
}

// onChallengeCompleted grants level rewards once a level becomes complete.
// It runs on every completion in a level so a grant that failed earlier is
// retried by the next one; the level marker keeps the reward to a single grant.
func (e *Engine) onChallengeCompleted(ctx context.Context, ev models.Event) error {
	if ev.Type != models.EventChallengeCompleted || ev.Level == "" {
		return nil
	}

	statuses, err := e.LevelStatus(ctx, ev.Participant, ev.World)
	if err != nil {
		return fmt.Errorf("failed to compute level status: %w", err)
	}
	complete := false
	for _, st := range statuses {
		if st.Level == ev.Level {
			complete = st.Complete
			break
		}
	}
	if !complete {
		return nil
	}

	level, err := e.catalog.GetLevel(ev.World, ev.Level)
	if err != nil {
		return err
	}
	first, err := e.store.MarkLevelComplete(ctx, ev.Participant, ev.World, level.Name)
	if err != nil {
		return fmt.Errorf("failed to mark level complete: %w", err)
	}
	if !first {
		return nil
	}

	if err := e.grant(ctx, ev.Participant, ev.World, level.Rewards); err != nil {
		slog.Error("failed to grant level rewards",
			"participant", ev.Participant, "world", ev.World, "level", level.Name, "error", err)
		if uerr := e.store.UnmarkLevelComplete(ctx, ev.Participant, ev.World, level.Name); uerr != nil {
			return fmt.Errorf("failed to clear level marker after grant failure: %w", uerr)
		}
		return nil
	}

	e.bus.Publish(ctx, models.Event{
		ID:          uuid.NewString(),
		Type:        models.EventLevelCompleted,
		Participant: ev.Participant,
		World:       ev.World,
		Level:       level.Name,
		Actor:       ev.Actor,
		OccurredAt:  e.now().UTC(),
	})
	return nil
}
