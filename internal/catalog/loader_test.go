package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/challenge-engine/internal/models"
)

const skyblockYAML = `
world: skyblock
levels:
  - name: novice
    friendly_name: Novice
    order: 1
  - name: adept
    order: 2
    prerequisite: novice
    waiver: 1
    rewards:
      - type: points
        amount: 50
challenges:
  - name: mine-10-stone
    friendly_name: Mine 10 stone
    level: novice
    order: 2
    repeatable: true
    max_repeats: 3
    requirements:
      - kind: statistic
        statistic: stone_mined
        value: 10
    repeat_rewards:
      - type: points
        amount: 5
  - name: first-kill
    level: novice
    order: 1
    requirements:
      - kind: statistic
        statistic: zombie_kills
        value: 1
  - name: cobble-gen
    level: adept
    requirements:
      - kind: item
        item: cobblestone
        quantity: 64
        consume: true
      - kind: challenge
        challenge: first-kill
  - name: spawn-visit
    requirements:
      - kind: location
        region: Spawn
`

func TestLoadWorld(t *testing.T) {
	l := NewLoader(t.TempDir())
	require.NoError(t, l.LoadWorld("skyblock", []byte(skyblockYAML)))

	c, err := l.Get("skyblock", "mine-10-stone")
	require.NoError(t, err)
	assert.Equal(t, "skyblock_mine-10-stone", c.Name)
	assert.Equal(t, "Mine 10 stone", c.FriendlyName)
	assert.Equal(t, "skyblock_novice", c.Level)
	assert.True(t, c.Repeatable)
	assert.Equal(t, 3, c.MaxRepeats)
	require.Len(t, c.RepeatRewards, 1)
	assert.Equal(t, int64(5), c.RepeatRewards[0].Amount)

	// qualified lookups work too
	same, err := l.Get("skyblock", "skyblock_mine-10-stone")
	require.NoError(t, err)
	assert.Same(t, c, same)

	gen, err := l.Get("skyblock", "cobble-gen")
	require.NoError(t, err)
	require.Len(t, gen.Requirements, 2)
	assert.Equal(t, models.ItemRequirement{Item: "cobblestone", Quantity: 64, Consume: true}, gen.Requirements[0])
	assert.Equal(t, models.ChallengeCompletedRequirement{Challenge: "skyblock_first-kill", Count: 1}, gen.Requirements[1])

	visit, err := l.Get("skyblock", "spawn-visit")
	require.NoError(t, err)
	assert.Equal(t, "spawn-visit", visit.FriendlyName)
	assert.Equal(t, models.LocationRequirement{Region: "Spawn"}, visit.Requirements[0])
}

func TestLoader_Ordering(t *testing.T) {
	l := NewLoader(t.TempDir())
	require.NoError(t, l.LoadWorld("skyblock", []byte(skyblockYAML)))

	var names []string
	for _, c := range l.ListAll("skyblock") {
		names = append(names, c.ShortName())
	}
	assert.Equal(t, []string{"first-kill", "mine-10-stone", "cobble-gen", "spawn-visit"}, names)

	novice := l.ListByLevel("skyblock", "novice")
	require.Len(t, novice, 2)
	assert.Equal(t, "skyblock_first-kill", novice[0].Name)

	levels := l.ListLevels("skyblock")
	require.Len(t, levels, 2)
	assert.Equal(t, "skyblock_novice", levels[0].Name)
	assert.Equal(t, "skyblock_novice", levels[1].PrerequisiteLevel)
	assert.Equal(t, 1, levels[1].Waiver)

	lvl, err := l.GetLevel("skyblock", "adept")
	require.NoError(t, err)
	assert.Equal(t, "adept", lvl.FriendlyName)
}

func TestLoader_NotFound(t *testing.T) {
	l := NewLoader(t.TempDir())
	require.NoError(t, l.LoadWorld("skyblock", []byte(skyblockYAML)))

	_, err := l.Get("skyblock", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Get("oneblock", "first-kill")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.GetLevel("skyblock", "master")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Nil(t, l.ListAll("oneblock"))
}

func TestLoader_InvalidReloadKeepsPreviousSet(t *testing.T) {
	l := NewLoader(t.TempDir())
	require.NoError(t, l.LoadWorld("skyblock", []byte(skyblockYAML)))

	broken := `
challenges:
  - name: dup
    requirements: [{kind: statistic, statistic: a, value: 1}]
  - name: dup
    requirements: [{kind: statistic, statistic: a, value: 1}]
  - name: no-fields
    requirements:
      - kind: item
      - kind: teleport
  - name: bad-repeats
    max_repeats: 2
    level: ghost
    requirements: [{kind: challenge, challenge: nowhere}]
`
	err := l.LoadWorld("skyblock", []byte(broken))
	var defErr *DefinitionError
	require.True(t, errors.As(err, &defErr))
	assert.Equal(t, "skyblock", defErr.World)
	assert.Contains(t, defErr.Problems, "duplicate challenge dup")
	assert.Contains(t, defErr.Problems, "challenge no-fields requirement 1: item requirement without item")
	assert.Contains(t, defErr.Problems, `challenge no-fields requirement 2: unknown requirement kind "teleport"`)
	assert.Contains(t, defErr.Problems, "challenge bad-repeats sets max_repeats but is not repeatable")
	assert.Contains(t, defErr.Problems, "challenge bad-repeats references unknown level ghost")
	assert.Contains(t, defErr.Problems, "challenge bad-repeats requires unknown challenge skyblock_nowhere")

	// old definitions are still served
	_, err = l.Get("skyblock", "mine-10-stone")
	assert.NoError(t, err)
	_, err = l.Get("skyblock", "dup")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoader_RejectsUnreachableLevels(t *testing.T) {
	tests := []struct {
		name     string
		levels   string
		problems []string
	}{
		{
			name: "self prerequisite",
			levels: `
  - {name: one, order: 1}
  - {name: two, order: 2, prerequisite: two}`,
			problems: []string{"level two requires itself"},
		},
		{
			name: "explicit cycle",
			levels: `
  - {name: one, order: 1}
  - {name: two, order: 2, prerequisite: three}
  - {name: three, order: 3, prerequisite: two}`,
			problems: []string{
				"level two is part of a prerequisite cycle",
				"level three is part of a prerequisite cycle",
			},
		},
		{
			name: "cycle through the implicit previous level",
			levels: `
  - {name: one, order: 1}
  - {name: two, order: 2, prerequisite: three}
  - {name: three, order: 3}`,
			problems: []string{
				"level two is part of a prerequisite cycle",
				"level three is part of a prerequisite cycle",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(t.TempDir())
			doc := "levels:" + tt.levels + `
challenges:
  - {name: a, level: one, requirements: [{kind: statistic, statistic: s, value: 1}]}
  - {name: b, level: two, requirements: [{kind: statistic, statistic: s, value: 1}]}
`
			err := l.LoadWorld("tiers", []byte(doc))
			var defErr *DefinitionError
			require.True(t, errors.As(err, &defErr), "got %v", err)
			assert.ElementsMatch(t, tt.problems, defErr.Problems)

			_, err = l.Get("tiers", "b")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLoader_AcceptsForwardPrerequisite(t *testing.T) {
	l := NewLoader(t.TempDir())
	doc := `
levels:
  - {name: one, order: 1}
  - {name: two, order: 2}
  - {name: three, order: 3, prerequisite: one}
challenges:
  - {name: a, level: one, requirements: [{kind: statistic, statistic: s, value: 1}]}
`
	require.NoError(t, l.LoadWorld("tiers", []byte(doc)))
	assert.Len(t, l.ListLevels("tiers"), 3)
}

func TestLoader_ReloadIsAtomicForReaders(t *testing.T) {
	l := NewLoader(t.TempDir())
	v1 := `
challenges:
  - {name: a, requirements: [{kind: statistic, statistic: s, value: 1}]}
  - {name: b, requirements: [{kind: statistic, statistic: s, value: 1}]}
`
	v2 := `
challenges:
  - {name: c, requirements: [{kind: statistic, statistic: s, value: 1}]}
  - {name: d, requirements: [{kind: statistic, statistic: s, value: 1}]}
`
	require.NoError(t, l.LoadWorld("w", []byte(v1)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			doc := v1
			if i%2 == 0 {
				doc = v2
			}
			if err := l.LoadWorld("w", []byte(doc)); err != nil {
				t.Errorf("reload: %v", err)
			}
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		all := l.ListAll("w")
		require.Len(t, all, 2)
		pair := all[0].ShortName() + all[1].ShortName()
		assert.Contains(t, []string{"ab", "cd"}, pair)
	}
}

func TestLoader_LoadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skyblock.yaml"), []byte(skyblockYAML), 0o644))

	sub := filepath.Join(dir, "oneblock")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "levels.yml"), []byte(`
levels:
  - {name: start, order: 1}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "challenges.yaml"), []byte(`
challenges:
  - name: dig
    level: start
    requirements: [{kind: statistic, statistic: blocks_broken, value: 100}]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))

	l := NewLoader(dir)
	require.NoError(t, l.LoadFromDir())
	assert.Equal(t, []string{"oneblock", "skyblock"}, l.Worlds())

	dig, err := l.Get("oneblock", "dig")
	require.NoError(t, err)
	assert.Equal(t, "oneblock_start", dig.Level)

	// edit on disk, then reload just that world
	require.NoError(t, os.WriteFile(filepath.Join(sub, "challenges.yaml"), []byte(`
challenges:
  - name: dig
    level: start
    deactivated: true
    requirements: [{kind: statistic, statistic: blocks_broken, value: 100}]
`), 0o644))
	require.NoError(t, l.Reload("oneblock"))
	dig, err = l.Get("oneblock", "dig")
	require.NoError(t, err)
	assert.True(t, dig.Deactivated)

	assert.ErrorIs(t, l.Reload("nether"), ErrNotFound)
	assert.ErrorIs(t, l.Reload("../etc"), ErrNotFound)
}

func TestWatcher_Handle(t *testing.T) {
	r := &recordingReloader{}
	w := NewWatcher(r, "", "")
	assert.Equal(t, DefaultReloadChannel, w.channel)

	w.handle(" skyblock ")
	w.handle("")
	w.handle("*")

	assert.Equal(t, []string{"skyblock"}, r.worlds)
	assert.Equal(t, 2, r.all)
}

type recordingReloader struct {
	worlds []string
	all    int
}

func (r *recordingReloader) Reload(world string) error {
	r.worlds = append(r.worlds, world)
	return nil
}

func (r *recordingReloader) ReloadAll() error {
	r.all++
	return nil
}

func TestShippedDefinitionsAreValid(t *testing.T) {
	l := NewLoader("../../challenges")
	require.NoError(t, l.LoadFromDir())
	assert.Contains(t, l.Worlds(), "skyblock")
	assert.Len(t, l.ListLevels("skyblock"), 3)
}
