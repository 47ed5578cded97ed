package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
)

func (h *Handler) GetTimeline(c *gin.Context) {
	branchID := c.Query("branch_id")
	if branchID == "" {
		apperr.Respond(c, nil, apperr.Validation("branch_id query parameter is required"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	var beforeSeq *int
	if raw := c.Query("before_seq"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			beforeSeq = &n
		}
	}

	messages, err := h.Sim.ListTimeline(branchID, beforeSeq, limit)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, gin.H{"messages": messages}, nil)
}
