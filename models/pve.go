package models

import "time"

// PveNodeStatus cycles active → defeated → (after RespawnAt) → active
type PveNodeStatus string

const (
	PveNodeActive     PveNodeStatus = "active"
	PveNodeDefeated   PveNodeStatus = "defeated"
	PveNodeRespawning PveNodeStatus = "respawning"
)

// PveNode is a neutral objective in a region. Its reward is consumable
// exactly once per defeat; the orchestrator sweep flips it back to
// active once RespawnAt has passed.
type PveNode struct {
	ID            string        `json:"id" gorm:"primaryKey;type:uuid"`
	Region        string        `json:"region" gorm:"not null;index"`
	Name          string        `json:"name" gorm:"not null"`
	PowerRequired int64         `json:"power_required" gorm:"not null"`
	Reward        ResourceMap   `json:"reward" gorm:"type:jsonb"`
	Status        PveNodeStatus `json:"status" gorm:"not null;default:'active';index"`
	RespawnAt     *time.Time    `json:"respawn_at,omitempty" gorm:"index"`
	DefeatedBy    string        `json:"defeated_by,omitempty"`

	Timestamps
}
