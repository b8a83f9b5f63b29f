package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// Loader owns challenge and level definitions for every world.
//
// Each world is published as an immutable worldSet behind an atomic pointer.
// Readers never lock and always see one complete set; Reload builds a new
// set and swaps it in only when it validates.
type Loader struct {
	dir string

	mu     sync.Mutex // serialises writers
	worlds atomic.Pointer[map[string]*worldSet]
}

type worldSet struct {
	challenges map[string]*models.Challenge
	ordered    []*models.Challenge
	levels     map[string]*models.Level
	levelOrder []*models.Level
	byLevel    map[string][]*models.Challenge
}

// NewLoader creates a loader reading world definitions from dir
func NewLoader(dir string) *Loader {
	l := &Loader{dir: dir}
	empty := map[string]*worldSet{}
	l.worlds.Store(&empty)
	return l
}

// LoadFromDir loads every world found in the definitions directory.
// A world is either <dir>/<world>.yaml or a <dir>/<world>/ directory of YAML files.
func (l *Loader) LoadFromDir() error {
	slog.Info("loading challenge definitions", "dir", l.dir)

	worlds, err := l.discoverWorlds()
	if err != nil {
		return err
	}

	var errs []error
	for _, world := range worlds {
		if err := l.Reload(world); err != nil {
			slog.Warn("failed to load world", "world", world, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload re-reads one world from disk and replaces its definitions atomically.
// On failure the previous definitions are kept.
func (l *Loader) Reload(world string) error {
	files, err := l.worldFiles(world)
	if err != nil {
		return err
	}

	docs := make([][]byte, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		docs = append(docs, data)
	}
	return l.LoadWorld(world, docs...)
}

// ReloadAll reloads every world currently on disk
func (l *Loader) ReloadAll() error {
	return l.LoadFromDir()
}

// LoadWorld parses and validates the YAML documents of a world and publishes
// them as its new definition set
func (l *Loader) LoadWorld(world string, docs ...[]byte) error {
	set, err := buildWorldSet(world, docs)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := *l.worlds.Load()
	next := make(map[string]*worldSet, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[world] = set
	l.worlds.Store(&next)

	slog.Info("world loaded", "world", world,
		"challenges", len(set.ordered), "levels", len(set.levelOrder))
	return nil
}

func (l *Loader) world(world string) *worldSet {
	return (*l.worlds.Load())[world]
}

// Worlds returns the names of all loaded worlds, sorted
func (l *Loader) Worlds() []string {
	current := *l.worlds.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get retrieves a challenge by short or world-qualified name
func (l *Loader) Get(world, name string) (*models.Challenge, error) {
	set := l.world(world)
	if set == nil {
		return nil, fmt.Errorf("%w: world %s", ErrNotFound, world)
	}
	c, ok := set.challenges[models.QualifiedName(world, name)]
	if !ok {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, name)
	}
	return c, nil
}

// ListAll returns every challenge of a world ordered by level, order and name
func (l *Loader) ListAll(world string) []*models.Challenge {
	set := l.world(world)
	if set == nil {
		return nil
	}
	return append([]*models.Challenge(nil), set.ordered...)
}

// ListByLevel returns the challenges of one level ordered by order and name
func (l *Loader) ListByLevel(world, level string) []*models.Challenge {
	set := l.world(world)
	if set == nil {
		return nil
	}
	return append([]*models.Challenge(nil), set.byLevel[models.QualifiedName(world, level)]...)
}

// GetLevel retrieves a level by short or world-qualified name
func (l *Loader) GetLevel(world, name string) (*models.Level, error) {
	set := l.world(world)
	if set == nil {
		return nil, fmt.Errorf("%w: world %s", ErrNotFound, world)
	}
	lvl, ok := set.levels[models.QualifiedName(world, name)]
	if !ok {
		return nil, fmt.Errorf("%w: level %s", ErrNotFound, name)
	}
	return lvl, nil
}

// ListLevels returns the levels of a world in order
func (l *Loader) ListLevels(world string) []*models.Level {
	set := l.world(world)
	if set == nil {
		return nil
	}
	return append([]*models.Level(nil), set.levelOrder...)
}

// --- Discovery ---

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (l *Loader) discoverWorlds() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	seen := map[string]bool{}
	var worlds []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			if !isYAML(name) {
				continue
			}
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if !seen[name] {
			seen[name] = true
			worlds = append(worlds, name)
		}
	}
	sort.Strings(worlds)
	return worlds, nil
}

func (l *Loader) worldFiles(world string) ([]string, error) {
	if world == "" || strings.ContainsAny(world, `/\`) || world == ".." {
		return nil, fmt.Errorf("%w: world %q", ErrNotFound, world)
	}

	var files []string
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, world+ext)
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}

	sub := filepath.Join(l.dir, world)
	if info, err := os.Stat(sub); err == nil && info.IsDir() {
		entries, err := os.ReadDir(sub)
		if err != nil {
			return nil, fmt.Errorf("failed to read world directory: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && isYAML(e.Name()) {
				files = append(files, filepath.Join(sub, e.Name()))
			}
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: world %s", ErrNotFound, world)
	}
	sort.Strings(files)
	return files, nil
}

// --- Building and validation ---

func buildWorldSet(world string, docs [][]byte) (*worldSet, error) {
	var problems []string
	problem := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	var levelFiles []levelFile
	var challengeFiles []challengeFile
	for i, data := range docs {
		wf, err := parseWorldFile(data)
		if err != nil {
			problem("document %d: %v", i+1, err)
			continue
		}
		if wf.World != "" && wf.World != world {
			problem("document %d declares world %q", i+1, wf.World)
		}
		levelFiles = append(levelFiles, wf.Levels...)
		challengeFiles = append(challengeFiles, wf.Challenges...)
	}

	set := &worldSet{
		challenges: make(map[string]*models.Challenge),
		levels:     make(map[string]*models.Level),
		byLevel:    make(map[string][]*models.Challenge),
	}

	for _, lf := range levelFiles {
		if lf.Name == "" {
			problem("level without name")
			continue
		}
		name := models.QualifiedName(world, lf.Name)
		if _, dup := set.levels[name]; dup {
			problem("duplicate level %s", lf.Name)
			continue
		}
		if lf.Waiver < 0 {
			problem("level %s has negative waiver", lf.Name)
		}
		lvl := &models.Level{
			World:        world,
			Name:         name,
			FriendlyName: orDefault(lf.FriendlyName, lf.Name),
			Order:        lf.Order,
			Waiver:       lf.Waiver,
			Rewards:      lf.Rewards,
		}
		if lf.Prerequisite != "" {
			lvl.PrerequisiteLevel = models.QualifiedName(world, lf.Prerequisite)
		}
		set.levels[name] = lvl
		set.levelOrder = append(set.levelOrder, lvl)
	}
	sort.SliceStable(set.levelOrder, func(i, j int) bool {
		a, b := set.levelOrder[i], set.levelOrder[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})
	checkCycles := true
	for _, lvl := range set.levelOrder {
		switch {
		case lvl.PrerequisiteLevel == "":
		case lvl.PrerequisiteLevel == lvl.Name:
			problem("level %s requires itself", models.ShortName(world, lvl.Name))
			checkCycles = false
		case set.levels[lvl.PrerequisiteLevel] == nil:
			problem("level %s references unknown prerequisite %s", lvl.Name, lvl.PrerequisiteLevel)
			checkCycles = false
		}
	}
	if checkCycles {
		for _, name := range prerequisiteCycle(set.levelOrder) {
			problem("level %s is part of a prerequisite cycle", models.ShortName(world, name))
		}
	}

	for _, cf := range challengeFiles {
		if cf.Name == "" {
			problem("challenge without name")
			continue
		}
		name := models.QualifiedName(world, cf.Name)
		if _, dup := set.challenges[name]; dup {
			problem("duplicate challenge %s", cf.Name)
			continue
		}
		if cf.MaxRepeats < 0 {
			problem("challenge %s has negative max_repeats", cf.Name)
		}
		if !cf.Repeatable && cf.MaxRepeats > 0 {
			problem("challenge %s sets max_repeats but is not repeatable", cf.Name)
		}
		if len(cf.Requirements) == 0 {
			problem("challenge %s has no requirements", cf.Name)
		}

		c := &models.Challenge{
			World:               world,
			Name:                name,
			FriendlyName:        orDefault(cf.FriendlyName, cf.Name),
			Description:         cf.Description,
			Order:               cf.Order,
			Repeatable:          cf.Repeatable,
			MaxRepeats:          cf.MaxRepeats,
			Rewards:             cf.Rewards,
			RepeatRewards:       cf.RepeatRewards,
			RepeatExcludesFirst: cf.RepeatExcludesFirst,
			Deactivated:         cf.Deactivated,
		}
		if cf.Level != "" {
			c.Level = models.QualifiedName(world, cf.Level)
			if set.levels[c.Level] == nil {
				problem("challenge %s references unknown level %s", cf.Name, cf.Level)
			}
		}
		for i, rf := range cf.Requirements {
			req, bad := rf.toRequirement(world)
			if bad != "" {
				problem("challenge %s requirement %d: %s", cf.Name, i+1, bad)
				continue
			}
			c.Requirements = append(c.Requirements, req)
		}

		set.challenges[name] = c
		set.ordered = append(set.ordered, c)
	}

	for _, c := range set.ordered {
		for _, req := range c.Requirements {
			dep, ok := req.(models.ChallengeCompletedRequirement)
			if !ok {
				continue
			}
			if dep.Challenge == c.Name {
				problem("challenge %s requires itself", c.ShortName())
			} else if set.challenges[dep.Challenge] == nil {
				problem("challenge %s requires unknown challenge %s", c.ShortName(), dep.Challenge)
			}
		}
	}

	if len(problems) > 0 {
		return nil, &DefinitionError{World: world, Problems: problems}
	}

	levelRank := make(map[string]int, len(set.levelOrder))
	for i, lvl := range set.levelOrder {
		levelRank[lvl.Name] = i
	}

	sort.SliceStable(set.ordered, func(i, j int) bool {
		a, b := set.ordered[i], set.ordered[j]
		ra, rb := rank(levelRank, a.Level), rank(levelRank, b.Level)
		if ra != rb {
			return ra < rb
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})
	for _, c := range set.ordered {
		if c.Level != "" {
			set.byLevel[c.Level] = append(set.byLevel[c.Level], c)
		}
	}

	return set, nil
}

// prerequisiteCycle returns the levels that can never unlock because their
// prerequisite chain leads back to them. levels must be in unlock order: the
// first is always open and the others default to the level before them.
func prerequisiteCycle(levels []*models.Level) []string {
	if len(levels) < 2 {
		return nil
	}
	prereq := make(map[string]string, len(levels))
	for i, lvl := range levels[1:] {
		prereq[lvl.Name] = levels[i].Name
		if lvl.PrerequisiteLevel != "" {
			prereq[lvl.Name] = lvl.PrerequisiteLevel
		}
	}

	var out []string
	for _, lvl := range levels[1:] {
		cur := lvl.Name
		for range levels {
			next, ok := prereq[cur]
			if !ok {
				break
			}
			if next == lvl.Name {
				out = append(out, lvl.Name)
				break
			}
			cur = next
		}
	}
	return out
}

// rank places challenges without a level after every level
func rank(levelRank map[string]int, level string) int {
	if r, ok := levelRank[level]; ok {
		return r
	}
	return len(levelRank)
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
