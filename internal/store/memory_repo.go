package store

import (
	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/idgen"
)

type MemoryRepo struct {
	db *gorm.DB
}

func NewMemoryRepo(db *gorm.DB) *MemoryRepo {
	return &MemoryRepo{db: db}
}

type InsertMemoryItemParams struct {
	SessionID       string
	BranchID        string
	SourceMessageID string
	Seq             int
	ContentHash     string
	Snippet         string
	Embedding       string
}

func (r *MemoryRepo) Insert(p InsertMemoryItemParams) (*MemoryItem, error) {
	item := &MemoryItem{
		ID:              idgen.NewULID(),
		SessionID:       p.SessionID,
		BranchID:        p.BranchID,
		SourceMessageID: p.SourceMessageID,
		Seq:             p.Seq,
		ContentHash:     p.ContentHash,
		Snippet:         p.Snippet,
		Embedding:       p.Embedding,
	}
	// A matching (branch_id, source_message_id, content_hash) row already
	// covers this message; skip the duplicate silently rather than erroring
	// the round over a re-index.
	var existing MemoryItem
	err := r.db.Where("branch_id = ? AND source_message_id = ? AND content_hash = ?",
		p.BranchID, p.SourceMessageID, p.ContentHash).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	if err := r.db.Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

// ListUpToSeq returns memory items on the branch whose source message
// has seq <= maxSeq, used both for context retrieval and for fork
// inheritance.
func (r *MemoryRepo) ListUpToSeq(branchID string, maxSeq int) ([]MemoryItem, error) {
	var rows []MemoryItem
	if err := r.db.Where("branch_id = ? AND seq <= ?", branchID, maxSeq).
		Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MemoryRepo) DeleteBySourceMessage(branchID, messageID string) error {
	return r.db.Where("branch_id = ? AND source_message_id = ?", branchID, messageID).
		Delete(&MemoryItem{}).Error
}

// CloneForFork inherits memory items from the source branch whose seq
// falls at or before cutSeq, rewriting branch_id to the new branch.
func (r *MemoryRepo) CloneForFork(sourceBranchID, newBranchID string, cutSeq int) error {
	items, err := r.ListUpToSeq(sourceBranchID, cutSeq)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	cloned := make([]MemoryItem, 0, len(items))
	for _, it := range items {
		clone := it
		clone.ID = idgen.NewULID()
		clone.BranchID = newBranchID
		cloned = append(cloned, clone)
	}
	return r.db.Create(&cloned).Error
}
