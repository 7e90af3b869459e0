package scoring

import (
	"fmt"
	"survey_engine/surveys/schema"
)

const (
	MinComponent = 0
	MaxComponent = 2
	MaxScore     = (3*MaxComponent)*2 + MaxComponent
)

// PriorityScore is (importance + urgency + expected impact) * 2 + supporter
// points, which lies in [0, 14] for components in [0, 2].
func PriorityScore(importance, urgency, expectedImpact, supporterPoints int) int {
	return (importance+urgency+expectedImpact)*2 + supporterPoints
}

// SupporterPointsFromCount maps a vote count onto the bounded supporter
// points scale.
func SupporterPointsFromCount(count int64) int {
	switch {
	case count <= 0:
		return 0
	case count < 3:
		return 1
	default:
		return 2
	}
}

// StarRating maps a priority score onto a 1 to 5 rating.
func StarRating(score int) int {
	switch {
	case score >= 12:
		return 5
	case score >= 9:
		return 4
	case score >= 6:
		return 3
	case score >= 3:
		return 2
	default:
		return 1
	}
}

func StarDisplay(score int) string {
	return fmt.Sprintf("%d★", StarRating(score))
}

func ComponentLabel(value int) string {
	switch value {
	case 0:
		return "Low"
	case 1:
		return "Medium"
	case 2:
		return "High"
	default:
		return "-"
	}
}

func ValidateComponent(field string, value int) error {
	if value < MinComponent || value > MaxComponent {
		return schema.NewValidationError(field, "%d must be between %d and %d", value, MinComponent, MaxComponent)
	}
	return nil
}

type Components struct {
	Importance      int
	Urgency         int
	ExpectedImpact  int
	SupporterPoints int
}

func (c Components) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"importance", c.Importance},
		{"urgency", c.Urgency},
		{"expected_impact", c.ExpectedImpact},
		{"supporter_points", c.SupporterPoints},
	}
	for _, check := range checks {
		if err := ValidateComponent(check.field, check.value); err != nil {
			return err
		}
	}
	return nil
}

func (c Components) Score() int {
	return PriorityScore(c.Importance, c.Urgency, c.ExpectedImpact, c.SupporterPoints)
}

func ComponentsOf(opinion *schema.PublishedOpinion) Components {
	return Components{
		Importance:      opinion.Importance,
		Urgency:         opinion.Urgency,
		ExpectedImpact:  opinion.ExpectedImpact,
		SupporterPoints: opinion.SupporterPoints,
	}
}

// Apply writes the components and the derived score onto the opinion.
func (c Components) Apply(opinion *schema.PublishedOpinion) {
	opinion.Importance = c.Importance
	opinion.Urgency = c.Urgency
	opinion.ExpectedImpact = c.ExpectedImpact
	opinion.SupporterPoints = c.SupporterPoints
	opinion.PriorityScore = c.Score()
}
