package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/simulation"
	"github.com/suPer8Hu/worldline/internal/store"
)

type createSessionReq struct {
	Title             string `json:"title"`
	WorldPreset       string `json:"world_preset" binding:"required"`
	TickLabel         string `json:"tick_label"`
	PostGenDelaySec   int    `json:"post_gen_delay_sec"`
	OutputLanguage    string `json:"output_language"`
	TimelineStartISO  string `json:"timeline_start_iso"`
	TimelineStepValue int    `json:"timeline_step_value"`
	TimelineStepUnit  string `json:"timeline_step_unit"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}

	sess, branch, err := h.Sim.CreateSession(simulation.CreateSessionInput{
		Title:             req.Title,
		WorldPreset:       req.WorldPreset,
		TickLabel:         req.TickLabel,
		PostGenDelaySec:   req.PostGenDelaySec,
		OutputLanguage:    req.OutputLanguage,
		TimelineStartISO:  req.TimelineStartISO,
		TimelineStepValue: req.TimelineStepValue,
		TimelineStepUnit:  req.TimelineStepUnit,
	})
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}

	apperr.Respond(c, gin.H{
		"session_id":          sess.ID,
		"active_branch_id":    branch.ID,
		"running":             sess.Running,
		"timeline_start_iso":  sess.TimelineStartISO,
		"timeline_step_value": sess.TimelineStepValue,
		"timeline_step_unit":  sess.TimelineStepUnit,
	}, nil)
}

// GetSessionOrHistory serves GET /session/:id. "history" is a reserved
// id that instead lists recent sessions, since gin's radix router
// can't register a static "/session/history" alongside "/session/:id".
func (h *Handler) GetSessionOrHistory(c *gin.Context) {
	if c.Param("id") == "history" {
		h.listSessionHistory(c)
		return
	}
	sess, err := h.Sim.GetSession(c.Param("id"))
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, sessionDetail(sess), nil)
}

func (h *Handler) listSessionHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := h.Sim.ListRecentSessions(limit)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"session_id": s.ID,
			"title":      s.Title,
			"updated_at": s.UpdatedAt,
			"running":    s.Running,
		})
	}
	apperr.Respond(c, out, nil)
}

func (h *Handler) StartSession(c *gin.Context) {
	h.transition(c, h.Sim.Start)
}

func (h *Handler) PauseSession(c *gin.Context) {
	h.transition(c, h.Sim.Pause)
}

func (h *Handler) ResumeSession(c *gin.Context) {
	h.transition(c, h.Sim.Resume)
}

func (h *Handler) transition(c *gin.Context, fn func(string) error) {
	id := c.Param("id")
	if err := fn(id); err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	sess, err := h.Sim.GetSession(id)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, gin.H{"running": sess.Running}, nil)
}

type settingsPatchReq struct {
	TickLabel         *string `json:"tick_label"`
	PostGenDelaySec   *int    `json:"post_gen_delay_sec"`
	OutputLanguage    *string `json:"output_language"`
	TimelineStartISO  *string `json:"timeline_start_iso"`
	TimelineStepValue *int    `json:"timeline_step_value"`
	TimelineStepUnit  *string `json:"timeline_step_unit"`
}

func (h *Handler) UpdateSessionSettings(c *gin.Context) {
	var req settingsPatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}
	sess, err := h.Sim.UpdateSettings(c.Param("id"), store.SettingsPatch{
		TickLabel:         req.TickLabel,
		PostGenDelaySec:   req.PostGenDelaySec,
		OutputLanguage:    req.OutputLanguage,
		TimelineStartISO:  req.TimelineStartISO,
		TimelineStepValue: req.TimelineStepValue,
		TimelineStepUnit:  req.TimelineStepUnit,
	})
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, sessionDetail(sess), nil)
}

func sessionDetail(sess *store.Session) gin.H {
	return gin.H{
		"session_id":          sess.ID,
		"title":               sess.Title,
		"output_language":     sess.OutputLanguage,
		"timeline_start_iso":  sess.TimelineStartISO,
		"timeline_step_value": sess.TimelineStepValue,
		"timeline_step_unit":  sess.TimelineStepUnit,
		"active_branch_id":    sess.ActiveBranchID,
		"running":             sess.Running,
		"tick_label":          sess.TickLabel,
		"post_gen_delay_sec":  sess.PostGenDelaySec,
	}
}
