package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/idgen"
)

type BranchRepo struct {
	db *gorm.DB
}

func NewBranchRepo(db *gorm.DB) *BranchRepo {
	return &BranchRepo{db: db}
}

func (r *BranchRepo) GetByID(id string) (*Branch, error) {
	var b Branch
	if err := r.db.First(&b, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("branch not found")
		}
		return nil, err
	}
	return &b, nil
}

func (r *BranchRepo) ListBySession(sessionID string) ([]Branch, error) {
	var rows []Branch
	if err := r.db.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BranchRepo) nextBranchName(tx *gorm.DB, sessionID string) (string, error) {
	var count int64
	if err := tx.Model(&Branch{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("branch-%d", count+1), nil
}

// Fork materializes a new branch by copying every message of source with
// seq <= cutSeq, giving it fresh ids but preserving seq values. This is
// the copy-on-fork strategy: reads on the new branch need no knowledge of
// its ancestry, and appends on either branch never touch the other's rows.
func (r *BranchRepo) Fork(sourceBranchID string, fromMessageID *string) (*Branch, int, error) {
	var newBranch Branch
	var cutSeq int

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var source Branch
		if err := tx.First(&source, "id = ?", sourceBranchID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("source branch not found")
			}
			return err
		}
		if source.IsArchived {
			return apperr.PreconditionFailed("source branch is archived")
		}

		if fromMessageID != nil {
			var msg TimelineMessage
			if err := tx.First(&msg, "id = ? AND branch_id = ?", *fromMessageID, sourceBranchID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return apperr.NotFound("fork point message not found on source branch")
				}
				return err
			}
			cutSeq = msg.Seq
		} else {
			var maxSeq struct{ Max int }
			if err := tx.Model(&TimelineMessage{}).
				Select("COALESCE(MAX(seq),0) as max").
				Where("branch_id = ?", sourceBranchID).Scan(&maxSeq).Error; err != nil {
				return err
			}
			cutSeq = maxSeq.Max
		}

		name, err := r.nextBranchName(tx, source.SessionID)
		if err != nil {
			return err
		}

		newBranch = Branch{
			ID:                idgen.NewULID(),
			SessionID:         source.SessionID,
			Name:              name,
			ParentBranchID:    &source.ID,
			ForkFromMessageID: fromMessageID,
		}
		if err := tx.Create(&newBranch).Error; err != nil {
			return err
		}

		if cutSeq > 0 {
			var sourceRows []TimelineMessage
			if err := tx.Where("branch_id = ? AND seq <= ?", sourceBranchID, cutSeq).
				Order("seq ASC").Find(&sourceRows).Error; err != nil {
				return err
			}
			cloned := make([]TimelineMessage, 0, len(sourceRows))
			for _, m := range sourceRows {
				clone := m
				clone.ID = idgen.NewULID()
				clone.BranchID = newBranch.ID
				cloned = append(cloned, clone)
			}
			if len(cloned) > 0 {
				if err := tx.Create(&cloned).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &newBranch, cutSeq, nil
}
