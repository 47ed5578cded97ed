package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/simulation"
	"github.com/suPer8Hu/worldline/internal/store"
)

type setProviderReq struct {
	Provider string  `json:"provider" binding:"required"`
	BaseURL  string  `json:"base_url"`
	APIKey   *string `json:"api_key"`
}

func (h *Handler) SetProvider(c *gin.Context) {
	var req setProviderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}
	view, err := h.Sim.SetProvider(c.Request.Context(), simulation.SetProviderInput{
		SessionID: c.Param("id"),
		Provider:  req.Provider,
		BaseURL:   req.BaseURL,
		APIKey:    req.APIKey,
	})
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, providerView(view), nil)
}

func (h *Handler) ListProviderModels(c *gin.Context) {
	models, err := h.Sim.ListModels(c.Request.Context(), c.Param("id"), c.Query("provider"))
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, gin.H{"models": models}, nil)
}

type selectModelReq struct {
	ModelName string `json:"model_name" binding:"required"`
}

func (h *Handler) SelectProviderModel(c *gin.Context) {
	var req selectModelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, nil, apperr.Validation("invalid request body"))
		return
	}
	view, err := h.Sim.SelectModel(c.Request.Context(), c.Param("id"), req.ModelName)
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, providerView(view), nil)
}

func (h *Handler) GetProviderCurrent(c *gin.Context) {
	view, err := h.Sim.GetProviderCurrent(c.Param("id"))
	if err != nil {
		apperr.Respond(c, nil, err)
		return
	}
	apperr.Respond(c, providerView(view), nil)
}

func providerView(v *store.ProviderView) gin.H {
	return gin.H{
		"provider":    v.Provider,
		"model_name":  v.ModelName,
		"base_url":    v.BaseURL,
		"has_api_key": v.HasAPIKey,
	}
}
