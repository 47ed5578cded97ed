package provider

import (
	"context"
	"testing"
)

func TestMockGenerateIsDeterministic(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "Time advance label: 1 month"},
		{Role: "user", Content: "a steampunk city"},
	}
	mock := NewMock(Config{ModelName: "fixture-v1"})

	r1, err := mock.Generate(context.Background(), messages, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	r2, err := mock.Generate(context.Background(), messages, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if r1.Text != r2.Text {
		t.Fatalf("expected identical output for identical input, got %q vs %q", r1.Text, r2.Text)
	}
}

func TestMockGenerateVariesWithInput(t *testing.T) {
	mock := NewMock(Config{ModelName: "fixture-v1"})
	r1, _ := mock.Generate(context.Background(), []Message{{Role: "user", Content: "a"}}, GenerateOptions{})
	r2, _ := mock.Generate(context.Background(), []Message{{Role: "user", Content: "b"}}, GenerateOptions{})
	if r1.Text == r2.Text {
		t.Fatalf("expected different output for different input")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   string
	}{
		{200, "nil"},
		{404, "client"},
		{429, "transient"},
		{500, "transient"},
		{503, "transient"},
	}
	for _, c := range cases {
		err := ClassifyStatus(c.status, "body")
		switch c.kind {
		case "nil":
			if err != nil {
				t.Fatalf("status %d: expected nil, got %v", c.status, err)
			}
		case "client":
			if _, ok := err.(*ClientError); !ok {
				t.Fatalf("status %d: expected ClientError, got %T", c.status, err)
			}
		case "transient":
			if _, ok := err.(*TransientError); !ok {
				t.Fatalf("status %d: expected TransientError, got %T", c.status, err)
			}
		}
	}
}
