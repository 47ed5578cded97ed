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

// OpenAICompatible implements the OpenAI chat-completions wire contract
// shared by the openai and deepseek variants; only the base URL and
// label differ.
type OpenAICompatible struct {
	label  string
	cfg    Config
	client *http.Client
}

func NewOpenAICompatible(label string, cfg Config) *OpenAICompatible {
	return &OpenAICompatible{
		label:  label,
		cfg:    cfg,
		client: &http.Client{},
	}
}

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *OpenAICompatible) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	p.setAuth(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewTransientError(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, ClassifyStatus(resp.StatusCode, string(body))
	}

	var parsed openAIModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProtocolError("malformed models response: " + err.Error())
	}
	names := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

type openAIChatRequest struct {
	Model          string            `json:"model"`
	Messages       []openAIChatMsg   `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Stop           []string          `json:"stop,omitempty"`
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAICompatible) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	reqBody := openAIChatRequest{
		Model:    p.cfg.ModelName,
		Messages: toOpenAIMessages(messages),
		Stop:     opts.Stop,
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		reqBody.Temperature = &t
	}
	if opts.ResponseFormat == "json" {
		reqBody.ResponseFormat = map[string]string{"type": "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	p.setAuth(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewTransientError(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, ClassifyStatus(resp.StatusCode, string(body))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProtocolError("malformed chat response: " + err.Error())
	}
	if len(parsed.Choices) == 0 {
		return nil, NewProtocolError("no choices in response")
	}
	text := parsed.Choices[0].Message.Content
	if text == "" {
		return nil, NewProtocolError("empty message content")
	}

	tokenIn, tokenOut := parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
	return &GenerateResult{Text: text, TokenIn: &tokenIn, TokenOut: &tokenOut, Raw: parsed}, nil
}

func (p *OpenAICompatible) setAuth(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.cfg.APIKey))
	}
}

func toOpenAIMessages(messages []Message) []openAIChatMsg {
	out := make([]openAIChatMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, openAIChatMsg{Role: m.Role, Content: m.Content})
	}
	return out
}
