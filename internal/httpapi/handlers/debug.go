package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/simulation"
)

func (h *Handler) GetDebugSettings(c *gin.Context) {
	apperr.Respond(c, debugSettingsView(h.Sim.GetDebugSettings()), nil)
}

type debugSettingsPatchReq struct {
	EventDiceEnabled  *bool    `json:"event_dice_enabled"`
	EventGoodProb     *float64 `json:"event_good_event_prob"`
	EventBadProb      *float64 `json:"event_bad_event_prob"`
	EventRebelProb    *float64 `json:"event_rebel_prob"`
	EventMinEvents    *int     `json:"event_min_events"`
	EventMaxEvents    *int     `json:"event_max_events"`
	MemoryMaxSnippets *int     `json:"memory_max_snippets"`
	MemoryMaxChars    *int     `json:"memory_max_chars"`
}

func (h *Handler) PatchDebugSettings(c *gin.Context) {
	var req debugSettingsPatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}
	view := h.Sim.PatchDebugSettings(simulation.DebugSettingsPatch{
		EventDiceEnabled:  req.EventDiceEnabled,
		EventGoodProb:     req.EventGoodProb,
		EventBadProb:      req.EventBadProb,
		EventRebelProb:    req.EventRebelProb,
		EventMinEvents:    req.EventMinEvents,
		EventMaxEvents:    req.EventMaxEvents,
		MemoryMaxSnippets: req.MemoryMaxSnippets,
		MemoryMaxChars:    req.MemoryMaxChars,
	})
	apperr.Respond(c, debugSettingsView(view), nil)
}

func debugSettingsView(v simulation.DebugSettingsView) gin.H {
	return gin.H{
		"event_dice_enabled":    v.EventDice.Enabled,
		"event_good_event_prob": v.EventDice.GoodProb,
		"event_bad_event_prob":  v.EventDice.BadProb,
		"event_rebel_prob":      v.EventDice.RebelProb,
		"event_min_events":      v.EventDice.MinEvents,
		"event_max_events":      v.EventDice.MaxEvents,
		"memory_max_snippets":   v.Memory.MaxSnippets,
		"memory_max_chars":      v.Memory.MaxChars,
	}
}
