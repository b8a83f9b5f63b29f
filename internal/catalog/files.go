package catalog

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// --- YAML file structs ---

// worldFile is one YAML document describing (part of) a world
type worldFile struct {
	World      string          `yaml:"world"`
	Levels     []levelFile     `yaml:"levels"`
	Challenges []challengeFile `yaml:"challenges"`
}

type levelFile struct {
	Name         string          `yaml:"name"`
	FriendlyName string          `yaml:"friendly_name"`
	Order        int             `yaml:"order"`
	Prerequisite string          `yaml:"prerequisite"`
	Waiver       int             `yaml:"waiver"`
	Rewards      []models.Reward `yaml:"rewards"`
}

type challengeFile struct {
	Name                string            `yaml:"name"`
	FriendlyName        string            `yaml:"friendly_name"`
	Description         string            `yaml:"description"`
	Level               string            `yaml:"level"`
	Order               int               `yaml:"order"`
	Repeatable          bool              `yaml:"repeatable"`
	MaxRepeats          int               `yaml:"max_repeats"`
	Requirements        []requirementFile `yaml:"requirements"`
	Rewards             []models.Reward   `yaml:"rewards"`
	RepeatRewards       []models.Reward   `yaml:"repeat_rewards"`
	RepeatExcludesFirst bool              `yaml:"repeat_excludes_first"`
	Deactivated         bool              `yaml:"deactivated"`
}

// requirementFile is the flattened form of every requirement kind
type requirementFile struct {
	Kind string `yaml:"kind"`

	Item     string `yaml:"item"`
	Quantity int    `yaml:"quantity"`
	Consume  bool   `yaml:"consume"`

	Statistic string `yaml:"statistic"`
	Value     int64  `yaml:"value"`

	World  string  `yaml:"world"`
	Region string  `yaml:"region"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Z      float64 `yaml:"z"`
	Radius float64 `yaml:"radius"`

	Challenge string `yaml:"challenge"`
	Count     int    `yaml:"count"`
}

func parseWorldFile(data []byte) (*worldFile, error) {
	var wf worldFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &wf, nil
}

// toRequirement converts and checks one requirement, returning a problem
// description when it is malformed
func (rf requirementFile) toRequirement(world string) (models.Requirement, string) {
	switch models.RequirementKind(strings.ToLower(rf.Kind)) {
	case models.KindItem:
		if rf.Item == "" {
			return nil, "item requirement without item"
		}
		if rf.Quantity <= 0 {
			return nil, fmt.Sprintf("item requirement %s needs a positive quantity", rf.Item)
		}
		return models.ItemRequirement{Item: rf.Item, Quantity: rf.Quantity, Consume: rf.Consume}, ""

	case models.KindStatistic:
		if rf.Statistic == "" {
			return nil, "statistic requirement without statistic"
		}
		if rf.Value <= 0 {
			return nil, fmt.Sprintf("statistic requirement %s needs a positive value", rf.Statistic)
		}
		return models.StatisticRequirement{Statistic: rf.Statistic, Value: rf.Value}, ""

	case models.KindLocation:
		if rf.Region == "" && rf.Radius <= 0 {
			return nil, "location requirement needs a region or a positive radius"
		}
		loc := models.LocationRequirement{Region: rf.Region, X: rf.X, Y: rf.Y, Z: rf.Z, Radius: rf.Radius, World: rf.World}
		if loc.Region == "" && loc.World == "" {
			loc.World = world
		}
		return loc, ""

	case models.KindChallenge:
		if rf.Challenge == "" {
			return nil, "challenge requirement without target challenge"
		}
		count := rf.Count
		if count <= 0 {
			count = 1
		}
		return models.ChallengeCompletedRequirement{
			Challenge: models.QualifiedName(world, rf.Challenge),
			Count:     count,
		}, ""

	case "":
		return nil, "requirement without kind"
	default:
		return nil, fmt.Sprintf("unknown requirement kind %q", rf.Kind)
	}
}
