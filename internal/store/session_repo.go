package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/idgen"
)

type SessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

type CreateSessionParams struct {
	Title             string
	WorldPreset       string
	TickLabel         string
	PostGenDelaySec   int
	OutputLanguage    string
	TimelineStartISO  string
	TimelineStepValue int
	TimelineStepUnit  string
}

// CreateSession creates the session row together with its first branch
// ("main") in one transaction, satisfying I4 immediately.
func (r *SessionRepo) CreateSession(p CreateSessionParams) (*Session, *Branch, error) {
	sess := &Session{
		ID:                idgen.NewULID(),
		Title:             p.Title,
		WorldPreset:       p.WorldPreset,
		Running:           false,
		TickLabel:         p.TickLabel,
		PostGenDelaySec:   p.PostGenDelaySec,
		OutputLanguage:    p.OutputLanguage,
		TimelineStartISO:  p.TimelineStartISO,
		TimelineStepValue: p.TimelineStepValue,
		TimelineStepUnit:  p.TimelineStepUnit,
	}

	var mainBranch Branch
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sess).Error; err != nil {
			return err
		}
		mainBranch = Branch{
			ID:        idgen.NewULID(),
			SessionID: sess.ID,
			Name:      "main",
		}
		if err := tx.Create(&mainBranch).Error; err != nil {
			return err
		}
		sess.ActiveBranchID = mainBranch.ID
		return tx.Model(sess).Update("active_branch_id", mainBranch.ID).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, &mainBranch, nil
}

func (r *SessionRepo) GetByID(id string) (*Session, error) {
	var s Session
	if err := r.db.First(&s, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("session not found")
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepo) ListRecent(limit int) ([]Session, error) {
	var rows []Session
	q := r.db.Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type SettingsPatch struct {
	TickLabel         *string
	PostGenDelaySec   *int
	OutputLanguage    *string
	TimelineStartISO  *string
	TimelineStepValue *int
	TimelineStepUnit  *string
}

func (r *SessionRepo) UpdateSettings(id string, p SettingsPatch) (*Session, error) {
	updates := map[string]any{}
	if p.TickLabel != nil {
		updates["tick_label"] = *p.TickLabel
	}
	if p.PostGenDelaySec != nil {
		updates["post_gen_delay_sec"] = *p.PostGenDelaySec
	}
	if p.OutputLanguage != nil {
		updates["output_language"] = *p.OutputLanguage
	}
	if p.TimelineStartISO != nil {
		updates["timeline_start_iso"] = *p.TimelineStartISO
	}
	if p.TimelineStepValue != nil {
		updates["timeline_step_value"] = *p.TimelineStepValue
	}
	if p.TimelineStepUnit != nil {
		updates["timeline_step_unit"] = *p.TimelineStepUnit
	}
	if len(updates) == 0 {
		return r.GetByID(id)
	}
	updates["updated_at"] = time.Now().UTC()
	if err := r.db.Model(&Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

func (r *SessionRepo) SetActiveBranch(sessionID, branchID string) error {
	return r.db.Model(&Session{}).Where("id = ?", sessionID).
		Updates(map[string]any{"active_branch_id": branchID, "updated_at": time.Now().UTC()}).Error
}

func (r *SessionRepo) SetRunning(sessionID string, running bool) error {
	return r.db.Model(&Session{}).Where("id = ?", sessionID).
		Updates(map[string]any{"running": running, "updated_at": time.Now().UTC()}).Error
}
