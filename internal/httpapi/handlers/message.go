package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/store"
)

func (h *Handler) DeleteLastMessage(c *gin.Context) {
	branchID := c.Query("branch_id")
	if branchID == "" {
		apperr.Respond(c, nil, apperr.Validation("branch_id query parameter is required"))
		return
	}
	deletedSeq, err := h.Sim.DeleteLastMessage(c.Request.Context(), branchID)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, gin.H{"deleted_seq": deletedSeq}, nil)
}

type editMessageReq struct {
	Content *string `json:"content"`
}

func (h *Handler) EditMessage(c *gin.Context) {
	var req editMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}
	msg, err := h.Sim.EditMessage(c.Param("message_id"), store.EditMessagePatch{Content: req.Content})
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, msg, nil)
}
