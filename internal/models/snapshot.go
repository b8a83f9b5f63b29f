package models

// Snapshot is a caller-supplied view of a participant's observable state.
// It lives for one evaluation and is never persisted.
type Snapshot struct {
	Items      map[string]int   `json:"items,omitempty"`
	Statistics map[string]int64 `json:"statistics,omitempty"`
	Location   *Location        `json:"location,omitempty"`
}

// Location is where the participant currently stands
type Location struct {
	World  string  `json:"world"`
	Region string  `json:"region,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// ItemCount returns the held quantity of item, zero when absent
func (s *Snapshot) ItemCount(item string) int {
	if s == nil {
		return 0
	}
	return s.Items[item]
}

// Statistic returns the value of a statistic, zero when absent
func (s *Snapshot) Statistic(name string) int64 {
	if s == nil {
		return 0
	}
	return s.Statistics[name]
}

// ConsumptionPlan lists the deductions to apply when a challenge completes.
// AttemptID lets a mutator recognise a repeated delivery of the same plan.
type ConsumptionPlan struct {
	AttemptID string         `json:"attempt_id"`
	Items     map[string]int `json:"items,omitempty"`
}

// Empty reports whether the plan deducts nothing
func (p ConsumptionPlan) Empty() bool {
	for _, qty := range p.Items {
		if qty > 0 {
			return false
		}
	}
	return true
}
