package models

import "time"

// PublicWorkStatus lifecycle: active → completed
type PublicWorkStatus string

const (
	PublicWorkActive    PublicWorkStatus = "active"
	PublicWorkCompleted PublicWorkStatus = "completed"
)

// PublicWork is a council-funded communal project. Completion percentage
// is always recomputed from contributed/required, never incremented, so
// it stays monotone while the project is active.
type PublicWork struct {
	ID             string           `json:"id" gorm:"primaryKey;type:uuid"`
	CouncilID      string           `json:"council_id" gorm:"not null;index"` // owning kingdom
	Region         string           `json:"region" gorm:"not null;index"`
	Name           string           `json:"name" gorm:"not null"`
	Required       ResourceMap      `json:"required_resources" gorm:"type:jsonb"`
	Contributed    ResourceMap      `json:"contributed_resources" gorm:"type:jsonb"`
	CompletionPct  float64          `json:"completion_percentage" gorm:"default:0"`
	RegionBonus    ResourceMap      `json:"region_bonus" gorm:"type:jsonb"` // credited once to every city in Region
	HappinessBonus int              `json:"happiness_bonus" gorm:"default:0"`
	Status         PublicWorkStatus `json:"status" gorm:"not null;default:'active';index"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`

	Timestamps
}

// RecomputeCompletion derives the percentage from contributions, each
// resource capped at its requirement.
func (w *PublicWork) RecomputeCompletion() {
	if len(w.Required) == 0 {
		w.CompletionPct = 100
		return
	}
	var sum float64
	for code, required := range w.Required {
		if required <= 0 {
			sum += 1
			continue
		}
		contributed := w.Contributed[code]
		if contributed > required {
			contributed = required
		}
		sum += float64(contributed) / float64(required)
	}
	w.CompletionPct = sum / float64(len(w.Required)) * 100
}
