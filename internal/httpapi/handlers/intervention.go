package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
)

type createInterventionReq struct {
	BranchID string `json:"branch_id" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

func (h *Handler) CreateIntervention(c *gin.Context) {
	var req createInterventionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}
	iv, err := h.Sim.Intervene(c.Param("id"), req.BranchID, req.Content)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, iv, nil)
}
