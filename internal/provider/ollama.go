package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Ollama talks to a local (or remote) Ollama daemon's non-streaming
// chat endpoint.
type Ollama struct {
	cfg    Config
	client *http.Client
}

func NewOllama(cfg Config) *Ollama {
	return &Ollama{cfg: cfg, client: &http.Client{}}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *Ollama) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
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

	var parsed ollamaTagsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProtocolError("malformed tags response: " + err.Error())
	}
	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaChatMsg `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (p *Ollama) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	msgs := make([]ollamaChatMsg, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, ollamaChatMsg{Role: m.Role, Content: m.Content})
	}
	reqBody := ollamaChatRequest{Model: p.cfg.ModelName, Messages: msgs, Stream: false}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
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

	var parsed ollamaChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProtocolError("malformed chat response: " + err.Error())
	}
	if parsed.Message.Content == "" {
		return nil, NewProtocolError("empty message content")
	}

	tokenIn, tokenOut := parsed.PromptEvalCount, parsed.EvalCount
	return &GenerateResult{Text: parsed.Message.Content, TokenIn: &tokenIn, TokenOut: &tokenOut, Raw: parsed}, nil
}
