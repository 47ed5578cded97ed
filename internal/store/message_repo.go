package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/idgen"
)

type MessageRepo struct {
	db   *gorm.DB
	lock *BranchLock // optional; nil disables the Redis advisory lock (tests)
}

func NewMessageRepo(db *gorm.DB, lock *BranchLock) *MessageRepo {
	return &MessageRepo{db: db, lock: lock}
}

type AppendMessageParams struct {
	SessionID      string
	BranchID       string
	Role           string
	Content        string
	TimeJumpLabel  string
	ModelProvider  string
	ModelName      string
	TokenIn        *int
	TokenOut       *int
	ReportSnapshot *string

	// AfterCreate runs inside the same transaction right after the
	// message row is created, so a caller can consume pending
	// interventions atomically with the append: if the transaction
	// rolls back (retry exhaustion), consumption rolls back with it.
	AfterCreate func(tx *gorm.DB, msg *TimelineMessage) error
}

const maxAppendRetries = 3

// AppendMessage inserts the next dense seq for the branch. It holds the
// branch's advisory lock for the duration of the attempt so a concurrent
// delete_last_message observes Busy rather than racing on seq.
func (r *MessageRepo) AppendMessage(ctx context.Context, p AppendMessageParams) (*TimelineMessage, error) {
	holder := idgen.NewUUID()
	if r.lock != nil {
		ok, err := r.lock.TryLock(ctx, p.BranchID, holder)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Busy("branch is locked by a concurrent operation")
		}
		defer r.lock.Unlock(ctx, p.BranchID, holder)
	}

	var msg TimelineMessage
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		lastErr = r.db.Transaction(func(tx *gorm.DB) error {
			var branch Branch
			if err := tx.First(&branch, "id = ?", p.BranchID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return apperr.NotFound("branch not found")
				}
				return err
			}
			if branch.IsArchived {
				return apperr.PreconditionFailed("branch is archived")
			}

			var maxSeq struct{ Max int }
			if err := tx.Model(&TimelineMessage{}).
				Select("COALESCE(MAX(seq),0) as max").
				Where("branch_id = ?", p.BranchID).Scan(&maxSeq).Error; err != nil {
				return err
			}

			msg = TimelineMessage{
				ID:             idgen.NewULID(),
				SessionID:      p.SessionID,
				BranchID:       p.BranchID,
				Seq:            maxSeq.Max + 1,
				Role:           p.Role,
				Content:        p.Content,
				TimeJumpLabel:  p.TimeJumpLabel,
				ModelProvider:  p.ModelProvider,
				ModelName:      p.ModelName,
				TokenIn:        p.TokenIn,
				TokenOut:       p.TokenOut,
				ReportSnapshot: p.ReportSnapshot,
			}
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
			if p.AfterCreate != nil {
				return p.AfterCreate(tx, &msg)
			}
			return nil
		})
		if lastErr == nil {
			return &msg, nil
		}
		var appErr *apperr.Error
		if errors.As(lastErr, &appErr) {
			return nil, lastErr
		}
		// Likely a unique-constraint violation from a lost seq race; retry.
	}
	return nil, apperr.Conflict("could not append message after retries: " + lastErr.Error())
}

// DeleteLastMessage removes the highest-seq row on the branch. It returns
// Busy if the branch's advisory lock is currently held (an append or
// another delete is in flight).
func (r *MessageRepo) DeleteLastMessage(ctx context.Context, branchID string) (*int, error) {
	holder := idgen.NewUUID()
	if r.lock != nil {
		ok, err := r.lock.TryLock(ctx, branchID, holder)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Busy("branch is locked by a concurrent operation")
		}
		defer r.lock.Unlock(ctx, branchID, holder)
	}

	var deletedSeq *int
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var last TimelineMessage
		err := tx.Where("branch_id = ?", branchID).Order("seq DESC").First(&last).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&TimelineMessage{}, "id = ?", last.ID).Error; err != nil {
			return err
		}
		if err := tx.Where("branch_id = ? AND source_message_id = ?", branchID, last.ID).
			Delete(&MemoryItem{}).Error; err != nil {
			return err
		}
		seq := last.Seq
		deletedSeq = &seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deletedSeq, nil
}

func (r *MessageRepo) GetByID(id string) (*TimelineMessage, error) {
	var m TimelineMessage
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("message not found")
		}
		return nil, err
	}
	return &m, nil
}

// ListWindow returns up to limit most recent messages on the branch, in
// ascending seq order, ready to feed the prompt builder.
func (r *MessageRepo) ListWindow(branchID string, limit int) ([]TimelineMessage, error) {
	var recent []TimelineMessage
	q := r.db.Where("branch_id = ?", branchID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recent).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

// ListPage returns messages in descending seq order starting strictly
// before beforeSeq (or from the top when beforeSeq is nil), for the
// timeline history endpoint.
func (r *MessageRepo) ListPage(branchID string, beforeSeq *int, limit int) ([]TimelineMessage, error) {
	var rows []TimelineMessage
	q := r.db.Where("branch_id = ?", branchID)
	if beforeSeq != nil {
		q = q.Where("seq < ?", *beforeSeq)
	}
	q = q.Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type EditMessagePatch struct {
	Content        *string
	ReportSnapshot *string
}

func (r *MessageRepo) EditMessage(id string, p EditMessagePatch) (*TimelineMessage, error) {
	updates := map[string]any{"is_user_edited": true}
	if p.Content != nil {
		updates["content"] = *p.Content
	}
	if p.ReportSnapshot != nil {
		updates["report_snapshot"] = *p.ReportSnapshot
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing TimelineMessage
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("message not found")
			}
			return err
		}
		return tx.Model(&TimelineMessage{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}
