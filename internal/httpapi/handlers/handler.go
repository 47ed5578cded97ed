// Package handlers holds the gin.HandlerFunc implementations for the
// session/provider/branch/timeline/message/intervention/debug surface,
// each a thin translation between HTTP and internal/simulation.Service.
package handlers

import (
	"github.com/suPer8Hu/worldline/internal/simulation"
)

type Handler struct {
	Sim *simulation.Service
}

func NewHandler(sim *simulation.Service) *Handler {
	return &Handler{Sim: sim}
}
