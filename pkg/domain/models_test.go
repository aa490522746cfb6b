package domain_test

import (
	"testing"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  domain.Mode
	}{
		{"Simple", "simple", domain.ModeSimple},
		{"DeepResearch", "deep_research", domain.ModeDeepResearch},
		{"MixedCase", " Deep_Research ", domain.ModeDeepResearch},
		{"Empty", "", domain.ModeSimple},
		{"Unknown", "turbo", domain.ModeSimple},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.ParseMode(tt.input); got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMessageClone(t *testing.T) {
	original := domain.NewAssistantMessage("calling", domain.ToolCall{ID: "1", Name: "think"})
	clone := original.Clone()
	clone.ToolCalls[0].Name = "changed"

	if original.ToolCalls[0].Name != "think" {
		t.Errorf("Clone shares tool calls with original: got %s", original.ToolCalls[0].Name)
	}
	if !original.HasToolCalls() {
		t.Error("Expected original to have tool calls")
	}
}

func TestToolResultToMessage(t *testing.T) {
	failed := domain.ToolResult{CallID: "call_1", Name: "wikipedia", Output: "boom", Success: false}
	msg := failed.ToMessage()

	if msg.Role != domain.RoleTool {
		t.Errorf("Role = %v, want tool", msg.Role)
	}
	if msg.ToolCallID != "call_1" || msg.Name != "wikipedia" {
		t.Errorf("Unexpected identifiers: %s %s", msg.ToolCallID, msg.Name)
	}
	if !msg.IsError {
		t.Error("Expected failed result to be marked as error")
	}
}

func TestResearchTaskComplete(t *testing.T) {
	task := domain.ResearchTask{ID: "task_1", Question: "q", Tools: []string{"tavily_search"}, Status: domain.TaskStatusPending}

	if task.Findings != nil {
		t.Fatal("Expected findings to be absent before execution")
	}

	done := task.Complete("answer", domain.TaskStatusCompleted)
	if done.FindingsText() != "answer" {
		t.Errorf("FindingsText = %q, want answer", done.FindingsText())
	}
	if task.Findings != nil {
		t.Error("Complete must not modify the original task")
	}
	done.Tools[0] = "changed"
	if task.Tools[0] != "tavily_search" {
		t.Error("Complete must copy the tools slice")
	}
}
