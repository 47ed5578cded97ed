package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/idgen"
)

type InterventionRepo struct {
	db *gorm.DB
}

func NewInterventionRepo(db *gorm.DB) *InterventionRepo {
	return &InterventionRepo{db: db}
}

func (r *InterventionRepo) Enqueue(sessionID, branchID, content string) (*UserIntervention, error) {
	var branch Branch
	if err := r.db.First(&branch, "id = ?", branchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("branch not found")
		}
		return nil, err
	}
	if branch.IsArchived {
		return nil, apperr.PreconditionFailed("branch is archived")
	}

	iv := &UserIntervention{
		ID:        idgen.NewULID(),
		SessionID: sessionID,
		BranchID:  branchID,
		Content:   content,
		Status:    InterventionPending,
	}
	if err := r.db.Create(iv).Error; err != nil {
		return nil, err
	}
	return iv, nil
}

// ConsumePending marks every pending intervention on the branch as
// consumed and returns them ordered by creation time. The round loop runs
// this inside the transaction that appends the generated message, so a
// failed append rolls the status back to pending.
func (r *InterventionRepo) ConsumePending(tx *gorm.DB, branchID string) ([]UserIntervention, error) {
	var rows []UserIntervention
	if err := tx.Where("branch_id = ? AND status = ?", branchID, InterventionPending).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}
	now := time.Now().UTC()
	ids := make([]string, 0, len(rows))
	for i := range rows {
		rows[i].Status = InterventionConsumed
		rows[i].ConsumedAt = &now
		ids = append(ids, rows[i].ID)
	}
	if err := tx.Model(&UserIntervention{}).Where("id IN ?", ids).
		Updates(map[string]any{"status": InterventionConsumed, "consumed_at": now}).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// WithTransaction exposes the underlying db for callers that need to combine intervention consumption with other writes in
// one atomic unit.
func (r *InterventionRepo) WithTransaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func (r *InterventionRepo) ListPending(branchID string) ([]UserIntervention, error) {
	var rows []UserIntervention
	if err := r.db.Where("branch_id = ? AND status = ?", branchID, InterventionPending).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
