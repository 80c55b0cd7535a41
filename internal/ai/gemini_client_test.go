package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
)

func TestToGenaiSchema(t *testing.T) {
	s := &Schema{
		Type:     TypeObject,
		Required: []string{"response"},
		Properties: map[string]*Schema{
			"response": {Type: TypeArray, Items: &Schema{
				Type:       TypeObject,
				Properties: map[string]*Schema{"type": {Type: TypeString, Enum: []string{"text", "chart"}}},
			}},
			"count": {Type: TypeInteger},
		},
	}
	g := toGenaiSchema(s)
	if g.Type != genai.TypeObject || len(g.Required) != 1 {
		t.Fatalf("top level: %+v", g)
	}
	arr := g.Properties["response"]
	if arr.Type != genai.TypeArray || arr.Items == nil || arr.Items.Type != genai.TypeObject {
		t.Fatalf("array: %+v", arr)
	}
	if tp := arr.Items.Properties["type"]; tp.Type != genai.TypeString || len(tp.Enum) != 2 {
		t.Fatalf("enum: %+v", tp)
	}
	if g.Properties["count"].Type != genai.TypeInteger {
		t.Fatalf("integer not mapped")
	}
}

func TestSplitConversation(t *testing.T) {
	sys, hist, last, err := splitConversation([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "m1"},
		{Role: RoleUser, Content: "u2"},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if sys != "a" || len(hist) != 2 || last != "u2" {
		t.Fatalf("sys=%q hist=%d last=%q", sys, len(hist), last)
	}
	if _, _, _, err := splitConversation([]Message{{Role: RoleAssistant, Content: "x"}}); err == nil {
		t.Fatalf("expected error when last message is not from the user")
	}
}

func TestClassifyGeminiError(t *testing.T) {
	var ae *AuthError
	if err := classifyGeminiError(errors.New("googleapi: Error 400: API key not valid. Please pass a valid API key.")); !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %T", err)
	}
	var se *SafetyError
	if err := classifyGeminiError(&genai.BlockedError{}); !errors.As(err, &se) {
		t.Fatalf("expected SafetyError, got %T", err)
	}
	var rl *RateLimitError
	if err := classifyGeminiError(&googleapi.Error{Code: 429, Message: "Resource has been exhausted"}); !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if err := classifyGeminiError(context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline not preserved: %v", err)
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	c := NewGeminiClient("", "", 0)
	if _, err := c.Generate(context.Background(), GenerateRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
