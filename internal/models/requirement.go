package models

import (
	"encoding/json"
	"fmt"
)

// RequirementKind tags the concrete requirement variant
type RequirementKind string

const (
	KindItem      RequirementKind = "item"
	KindStatistic RequirementKind = "statistic"
	KindLocation  RequirementKind = "location"
	KindChallenge RequirementKind = "challenge"
)

// Requirement is a condition evaluated against a participant snapshot.
// The set of implementations is closed: ItemRequirement,
// StatisticRequirement, LocationRequirement and ChallengeCompletedRequirement.
type Requirement interface {
	Kind() RequirementKind
	// Subject names the measured quantity (item id, statistic name, ...)
	Subject() string
	String() string
	requirement()
}

// ItemRequirement asks for Quantity of Item in the inventory.
// When Consume is set the items are removed on completion.
type ItemRequirement struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	Consume  bool   `json:"consume"`
}

func (ItemRequirement) Kind() RequirementKind { return KindItem }
func (r ItemRequirement) Subject() string    { return r.Item }
func (ItemRequirement) requirement()          {}

func (r ItemRequirement) String() string {
	if r.Consume {
		return fmt.Sprintf("%d x %s (consumed)", r.Quantity, r.Item)
	}
	return fmt.Sprintf("%d x %s", r.Quantity, r.Item)
}

func (r ItemRequirement) MarshalJSON() ([]byte, error) {
	type alias ItemRequirement
	return marshalKind(KindItem, alias(r))
}

// StatisticRequirement asks for a statistic to reach Value
type StatisticRequirement struct {
	Statistic string `json:"statistic"`
	Value     int64  `json:"value"`
}

func (StatisticRequirement) Kind() RequirementKind { return KindStatistic }
func (r StatisticRequirement) Subject() string    { return r.Statistic }
func (StatisticRequirement) requirement()          {}

func (r StatisticRequirement) String() string {
	return fmt.Sprintf("%s >= %d", r.Statistic, r.Value)
}

func (r StatisticRequirement) MarshalJSON() ([]byte, error) {
	type alias StatisticRequirement
	return marshalKind(KindStatistic, alias(r))
}

// LocationRequirement is met inside a named region, or within Radius of
// (X, Y, Z) in World when Radius is positive.
type LocationRequirement struct {
	World  string  `json:"world,omitempty"`
	Region string  `json:"region,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Z      float64 `json:"z,omitempty"`
	Radius float64 `json:"radius,omitempty"`
}

func (LocationRequirement) Kind() RequirementKind { return KindLocation }
func (LocationRequirement) requirement()          {}

func (r LocationRequirement) Subject() string {
	if r.Region != "" {
		return r.Region
	}
	return fmt.Sprintf("%s@%.0f,%.0f,%.0f", r.World, r.X, r.Y, r.Z)
}

func (r LocationRequirement) String() string {
	if r.Region != "" {
		return "inside " + r.Region
	}
	return fmt.Sprintf("within %.1f of %s", r.Radius, r.Subject())
}

func (r LocationRequirement) MarshalJSON() ([]byte, error) {
	type alias LocationRequirement
	return marshalKind(KindLocation, alias(r))
}

// ChallengeCompletedRequirement asks for another challenge in the same world
// to be completed at least Count times.
type ChallengeCompletedRequirement struct {
	Challenge string `json:"challenge"` // world-qualified
	Count     int    `json:"count"`
}

func (ChallengeCompletedRequirement) Kind() RequirementKind { return KindChallenge }
func (r ChallengeCompletedRequirement) Subject() string    { return r.Challenge }
func (ChallengeCompletedRequirement) requirement()          {}

func (r ChallengeCompletedRequirement) String() string {
	return fmt.Sprintf("%s completed %d time(s)", r.Challenge, r.Count)
}

func (r ChallengeCompletedRequirement) MarshalJSON() ([]byte, error) {
	type alias ChallengeCompletedRequirement
	return marshalKind(KindChallenge, alias(r))
}

func marshalKind(kind RequirementKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["kind"], _ = json.Marshal(kind)
	return json.Marshal(fields)
}
