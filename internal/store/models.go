// Package store holds the GORM entities and transactional repository
// operations over sessions, branches, timeline messages, interventions,
// provider configs, and memory items.
package store

import "time"

type Session struct {
	ID                string `gorm:"primaryKey;size:26"`
	Title             string
	WorldPreset       string `gorm:"type:text"`
	Running           bool   `gorm:"default:false"`
	TickLabel         string
	PostGenDelaySec   int    `gorm:"default:5"`
	ActiveBranchID    string `gorm:"size:26;index"`
	OutputLanguage    string `gorm:"default:en"`
	TimelineStartISO  string
	TimelineStepValue int    `gorm:"default:1"`
	TimelineStepUnit  string `gorm:"default:month"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Session) TableName() string { return "sessions" }

type Branch struct {
	ID                string `gorm:"primaryKey;size:26"`
	SessionID         string `gorm:"size:26;index;uniqueIndex:idx_branch_session_name,priority:1"`
	Name              string `gorm:"uniqueIndex:idx_branch_session_name,priority:2"`
	ParentBranchID    *string `gorm:"size:26"`
	ForkFromMessageID *string `gorm:"size:26"`
	IsArchived        bool    `gorm:"default:false"`
	CreatedAt         time.Time
}

func (Branch) TableName() string { return "branches" }

type TimelineMessage struct {
	ID             string `gorm:"primaryKey;size:26"`
	SessionID      string `gorm:"size:26;index"`
	BranchID       string `gorm:"size:26;uniqueIndex:idx_msg_branch_seq,priority:1"`
	Seq            int    `gorm:"uniqueIndex:idx_msg_branch_seq,priority:2"`
	Role           string `gorm:"size:32"`
	Content        string `gorm:"type:text"`
	TimeJumpLabel  string
	ModelProvider  string
	ModelName      string
	TokenIn        *int
	TokenOut       *int
	IsUserEdited   bool `gorm:"default:false"`
	ReportSnapshot *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (TimelineMessage) TableName() string { return "timeline_messages" }

const (
	RoleSystemReport    = "system_report"
	RoleUserIntervention = "user_intervention"
)

type UserIntervention struct {
	ID         string `gorm:"primaryKey;size:26"`
	SessionID  string `gorm:"size:26;index"`
	BranchID   string `gorm:"size:26;index"`
	Content    string `gorm:"type:text"`
	Status     string `gorm:"size:16;default:pending"`
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

func (UserIntervention) TableName() string { return "user_interventions" }

const (
	InterventionPending  = "pending"
	InterventionConsumed = "consumed"
	InterventionCanceled = "canceled"
)

type ProviderConfig struct {
	SessionID       string `gorm:"primaryKey;size:26"`
	Provider        string `gorm:"size:32"`
	BaseURL         string
	APIKeyEncrypted string `gorm:"type:text"`
	ModelName       string
	ExtraJSON       string `gorm:"type:text"`
	UpdatedAt       time.Time
}

func (ProviderConfig) TableName() string { return "provider_configs" }

// MemoryItem is the lightweight store backing the deterministic memory
// collaborator. The hash-derived embedding is stored as JSON text, not as a
// queryable vector index: similarity is computed in Go after loading rows.
type MemoryItem struct {
	ID              string `gorm:"primaryKey;size:26"`
	SessionID       string `gorm:"size:26;index"`
	BranchID        string `gorm:"size:26;index;uniqueIndex:idx_memitem_source,priority:1"`
	SourceMessageID string `gorm:"size:26;uniqueIndex:idx_memitem_source,priority:2"`
	Seq             int
	ContentHash     string `gorm:"size:64;uniqueIndex:idx_memitem_source,priority:3"`
	Snippet         string `gorm:"type:text"`
	Embedding       string `gorm:"type:text"` // JSON-encoded []float64
	CreatedAt       time.Time
}

func (MemoryItem) TableName() string { return "memory_items" }
