package models

import "strings"

// Challenge is a named, completable task scoped to a world.
// Loaded definitions are never mutated; a catalog reload replaces them wholesale.
type Challenge struct {
	World        string `json:"world"`
	Name         string `json:"name"` // world-qualified, e.g. "skyblock_mine-10-stone"
	FriendlyName string `json:"friendly_name"`
	Description  string `json:"description,omitempty"`
	Level        string `json:"level,omitempty"` // world-qualified level name, empty when levels are unused
	Order        int    `json:"order"`

	Repeatable bool `json:"repeatable"`
	MaxRepeats int  `json:"max_repeats"` // 0 = unlimited

	Requirements []Requirement `json:"requirements"`

	Rewards             []Reward `json:"rewards,omitempty"`
	RepeatRewards       []Reward `json:"repeat_rewards,omitempty"`
	RepeatExcludesFirst bool     `json:"repeat_excludes_first"`

	Deactivated bool `json:"deactivated"`
}

// CompletionLimit returns the highest completion count allowed for the
// challenge. Zero means unbounded.
func (c *Challenge) CompletionLimit() int {
	if !c.Repeatable {
		return 1
	}
	return c.MaxRepeats
}

// ShortName returns the challenge name without its world prefix
func (c *Challenge) ShortName() string {
	return ShortName(c.World, c.Name)
}

// Level groups an ordered set of challenges within a world
type Level struct {
	World        string `json:"world"`
	Name         string `json:"name"` // world-qualified
	FriendlyName string `json:"friendly_name"`
	Order        int    `json:"order"`

	// PrerequisiteLevel must be (almost) complete before this level unlocks.
	// Waiver is how many of its challenges may be left undone.
	PrerequisiteLevel string `json:"prerequisite_level,omitempty"`
	Waiver            int    `json:"waiver"`

	Rewards []Reward `json:"rewards,omitempty"`
}

// Reward describes a single grant handed to a reward granter
type Reward struct {
	Type   string `yaml:"type" json:"type"` // "points", "money", "item", ...
	ID     string `yaml:"id" json:"id,omitempty"`
	Amount int64  `yaml:"amount" json:"amount"`
}

// QualifiedName prefixes name with its world, leaving already qualified names alone
func QualifiedName(world, name string) string {
	if world == "" || strings.HasPrefix(name, world+"_") {
		return name
	}
	return world + "_" + name
}

// ShortName strips the world prefix from a qualified name
func ShortName(world, name string) string {
	return strings.TrimPrefix(name, world+"_")
}
