package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
)

func (h *Handler) GetBranches(c *gin.Context) {
	sessionID := c.Param("id")
	sess, err := h.Sim.GetSession(sessionID)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	branches, err := h.Sim.ListBranches(sessionID)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, gin.H{"branches": branches, "active_branch_id": sess.ActiveBranchID}, nil)
}

type forkBranchReq struct {
	FromMessageID *string `json:"from_message_id"`
}

func (h *Handler) ForkBranch(c *gin.Context) {
	var req forkBranchReq
	_ = c.ShouldBindJSON(&req)

	result, err := h.Sim.Fork(c.Param("id"), req.FromMessageID)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, gin.H{"branch": result.Branch, "cut_seq": result.CutSeq}, nil)
}

type switchBranchReq struct {
	BranchID string `json:"branch_id" binding:"required"`
}

func (h *Handler) SwitchBranch(c *gin.Context) {
	var req switchBranchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}
	if err := h.Sim.Switch(c.Param("id"), req.BranchID); err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, gin.H{"active_branch_id": req.BranchID}, nil)
}
