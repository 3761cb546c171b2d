package provider

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestToGeminiHistory(t *testing.T) {
	system, history, last, err := toGeminiHistory([]Message{
		{Role: RoleSystem, Content: "You are the COO."},
		{Role: RoleUser, Content: "task"},
		{Role: RoleAssistant, Content: "TOOL: list_files {}"},
		{Role: RoleUser, Content: "observation"},
	})
	if err != nil {
		t.Fatalf("toGeminiHistory: %v", err)
	}
	if system != "You are the COO." || last != "observation" {
		t.Errorf("system=%q last=%q", system, last)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("history roles wrong: %+v", history)
	}
	if txt, ok := history[1].Parts[0].(genai.Text); !ok || string(txt) != "TOOL: list_files {}" {
		t.Errorf("history[1] = %#v", history[1].Parts[0])
	}

	if _, _, _, err := toGeminiHistory([]Message{{Role: RoleAssistant, Content: "x"}}); err == nil {
		t.Error("conversation ending with assistant accepted")
	}
}

func TestFromGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("final "), genai.Text("answer")}},
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 2},
	}
	got := fromGeminiResponse(resp)
	if got.Content != "final answer" || got.Usage.InputTokens != 7 || got.Usage.OutputTokens != 2 {
		t.Errorf("fromGeminiResponse = %+v", got)
	}
	if fromGeminiResponse(nil).Content != "" {
		t.Error("nil response produced content")
	}
}
