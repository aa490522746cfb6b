package state_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ncolesummers/research-chat-agent/internal/testutil"
	"github.com/ncolesummers/research-chat-agent/pkg/agent"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/state"
)

func newState(chatID string) *state.WorkflowState {
	return state.NewWorkflowState(chatID, domain.ModeDeepResearch, "system", testutil.NewTestConversation(2))
}

func TestNewWorkflowState(t *testing.T) {
	s := newState("chat-1")

	if s.ChatID != "chat-1" {
		t.Errorf("ChatID = %v, want chat-1", s.ChatID)
	}
	if s.Turn.State != agent.StateAwaitingModel {
		t.Errorf("Turn.State = %v, want %v", s.Turn.State, agent.StateAwaitingModel)
	}
	if got := len(s.Messages()); got != 3 {
		t.Errorf("len(Messages) = %v, want 3", got)
	}
	if s.Question() != "question a" {
		t.Errorf("Question = %q, want %q", s.Question(), "question a")
	}
}

func TestWorkflowState_SetAndGetPhase(t *testing.T) {
	s := newState("chat-1")

	if s.GetPhase() != "" {
		t.Errorf("Initial phase = %v, want empty", s.GetPhase())
	}

	s.SetPhase(domain.PhaseResearch)
	if s.GetPhase() != domain.PhaseResearch {
		t.Errorf("Phase after set = %v, want %v", s.GetPhase(), domain.PhaseResearch)
	}
}

func TestWorkflowState_SetPlan(t *testing.T) {
	s := newState("chat-1")

	err := s.SetPlan("brief", []domain.ResearchTask{
		testutil.NewTestTask("task_1", "q1"),
		testutil.NewTestTask("task_1", "q2"),
	})
	if err == nil {
		t.Error("SetPlan accepted duplicate task ids")
	}

	err = s.SetPlan("brief", []domain.ResearchTask{testutil.NewTestTask("", "q1")})
	if err == nil {
		t.Error("SetPlan accepted an empty task id")
	}

	err = s.SetPlan("brief", []domain.ResearchTask{
		testutil.NewTestTask("task_1", "q1"),
		testutil.NewTestTask("task_2", "q2"),
	})
	if err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	if s.GetBrief() != "brief" {
		t.Errorf("Brief = %q, want brief", s.GetBrief())
	}

	tasks := s.GetTasks()
	tasks[0].Question = "mutated"
	if s.GetTasks()[0].Question != "q1" {
		t.Error("GetTasks returned shared storage")
	}
}

func TestWorkflowState_CompleteTasks(t *testing.T) {
	s := newState("chat-1")
	plan := []domain.ResearchTask{
		testutil.NewTestTask("task_1", "q1"),
		testutil.NewTestTask("task_2", "q2"),
	}
	if err := s.SetPlan("brief", plan); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}

	if err := s.CompleteTasks(plan[:1]); err == nil {
		t.Error("CompleteTasks accepted a short list")
	}
	if err := s.CompleteTasks([]domain.ResearchTask{plan[1], plan[0]}); err == nil {
		t.Error("CompleteTasks accepted reordered tasks")
	}

	done := []domain.ResearchTask{
		plan[0].Complete("found it", domain.TaskStatusCompleted),
		plan[1].Complete("Research failed: timeout", domain.TaskStatusFailed),
	}
	if err := s.CompleteTasks(done); err != nil {
		t.Fatalf("CompleteTasks failed: %v", err)
	}

	stats := s.GetTaskStats()
	if stats.Total != 2 || stats.Completed != 1 || stats.Failed != 1 || stats.Pending != 0 {
		t.Errorf("GetTaskStats = %+v", stats)
	}
}

func TestWorkflowState_Snapshot(t *testing.T) {
	s := newState("chat-1")
	s.AddMessage(domain.NewAssistantMessage("reply"))
	s.IncrementStep()

	snap := s.GetSnapshot()
	if snap.Steps != 1 {
		t.Errorf("Steps = %v, want 1", snap.Steps)
	}
	if len(snap.Messages) != 4 {
		t.Errorf("len(Messages) = %v, want 4", len(snap.Messages))
	}

	s.AddMessage(domain.NewUserMessage("later"))
	if len(snap.Messages) != 4 {
		t.Error("snapshot changed after the state was modified")
	}
}

func TestWorkflowState_ConcurrentAccess(t *testing.T) {
	s := newState("chat-1")
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.AddMessage(domain.NewAssistantMessage(fmt.Sprintf("msg %d", i)))
			s.SetPhase(domain.PhaseResearch)
		}(i)
		go func() {
			defer wg.Done()
			_ = s.GetSnapshot()
			_ = s.GetPhase()
		}()
	}
	wg.Wait()

	if got := len(s.Messages()); got != 13 {
		t.Errorf("len(Messages) = %v, want 13", got)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()

	if err := store.Save(ctx, newState("")); err == nil {
		t.Error("Save accepted a state without chat id")
	}

	first := newState("chat-1")
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Saving again replaces the checkpoint
	first.AddMessage(domain.NewAssistantMessage("second run"))
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Messages) != 4 {
		t.Errorf("len(Messages) = %v, want 4", len(loaded.Messages))
	}

	_, err = store.Load(ctx, "missing")
	if !errors.Is(err, state.ErrCheckpointNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrCheckpointNotFound", err)
	}

	simple := state.NewWorkflowState("chat-2", domain.ModeSimple, "", nil)
	if err := store.Save(ctx, simple); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	all, _ := store.List(ctx, state.Filter{})
	if len(all) != 2 {
		t.Errorf("List() returned %d, want 2", len(all))
	}
	deep, _ := store.List(ctx, state.Filter{Modes: []domain.Mode{domain.ModeDeepResearch}})
	if len(deep) != 1 || deep[0].ChatID != "chat-1" {
		t.Errorf("List(deep_research) = %+v", deep)
	}
	future := time.Now().Add(time.Hour)
	none, _ := store.List(ctx, state.Filter{StartTime: &future})
	if len(none) != 0 {
		t.Errorf("List(start in future) returned %d, want 0", len(none))
	}

	if err := store.Delete(ctx, "chat-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "chat-1"); err == nil {
		t.Error("Load succeeded after Delete")
	}
}
