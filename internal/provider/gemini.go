package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gemini implements the v1beta generateContent wire contract. System
// messages are mapped to system_instruction; every other role becomes
// "user" or "model".
type Gemini struct {
	cfg    Config
	client *http.Client
}

func NewGemini(cfg Config) *Gemini {
	return &Gemini{cfg: cfg, client: &http.Client{}}
}

type geminiModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *Gemini) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models?key=%s", p.cfg.BaseURL, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewTransientError(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, ClassifyStatus(resp.StatusCode, string(body))
	}

	var parsed geminiModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProtocolError("malformed models response: " + err.Error())
	}
	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Gemini) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	var system *geminiContent
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			s := geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			system = &s
			continue
		}
		role := "model"
		if m.Role == "user" {
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	reqBody := geminiGenerateRequest{Contents: contents, SystemInstruction: system}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.cfg.BaseURL, p.cfg.ModelName, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewTransientError(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, ClassifyStatus(resp.StatusCode, string(body))
	}

	var parsed geminiGenerateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProtocolError("malformed generateContent response: " + err.Error())
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, NewProtocolError("no candidate content in response")
	}

	text := parsed.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return nil, NewProtocolError("empty candidate text")
	}
	tokenIn, tokenOut := parsed.UsageMetadata.PromptTokenCount, parsed.UsageMetadata.CandidatesTokenCount
	return &GenerateResult{Text: text, TokenIn: &tokenIn, TokenOut: &tokenOut, Raw: parsed}, nil
}
