package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/agent"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// WorkflowState is the state threaded through one graph execution. It is
// owned by that execution; the mutex guards readers such as checkpointing.
type WorkflowState struct {
	mu           sync.RWMutex
	ChatID       string
	Mode         domain.Mode
	Turn         *agent.Turn
	Brief        string
	Tasks        []domain.ResearchTask
	CurrentPhase domain.Phase
	Steps        int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewWorkflowState creates the state for one run over the given history
func NewWorkflowState(chatID string, mode domain.Mode, system string, messages []domain.Message) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		ChatID:    chatID,
		Mode:      mode,
		Turn:      agent.NewTurn(system, messages),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Messages returns a copy of the conversation history
func (s *WorkflowState) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMessages(s.Turn.Messages)
}

// AddMessage appends a message to the history
func (s *WorkflowState) AddMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Turn.Messages = append(s.Turn.Messages, msg)
	s.UpdatedAt = time.Now()
}

// UpdateTurn runs fn on a copy of the agent turn and stores the copy
// when fn returns. Readers see the previous turn until then.
func (s *WorkflowState) UpdateTurn(fn func(turn *agent.Turn) error) error {
	s.mu.RLock()
	turn := *s.Turn
	turn.Messages = copyMessages(s.Turn.Messages)
	s.mu.RUnlock()

	err := fn(&turn)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turn = &turn
	s.UpdatedAt = time.Now()
	return err
}

// TurnState returns the loop state of the agent turn
func (s *WorkflowState) TurnState() agent.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Turn.State
}

// Question returns the content of the first user message, which deep
// research treats as the original question
func (s *WorkflowState) Question() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.Turn.Messages {
		if m.Role == domain.RoleUser {
			return m.Content
		}
	}
	return ""
}

// SetPhase sets the current workflow phase
func (s *WorkflowState) SetPhase(phase domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CurrentPhase = phase
	s.UpdatedAt = time.Now()
}

// GetPhase returns the current phase
func (s *WorkflowState) GetPhase() domain.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.CurrentPhase
}

// IncrementStep counts one executed node
func (s *WorkflowState) IncrementStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Steps++
	s.UpdatedAt = time.Now()
	return s.Steps
}

// SetPlan stores the research brief and tasks. Task ids must be unique
// and non-empty.
func (s *WorkflowState) SetPlan(brief string, tasks []domain.ResearchTask) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("research task id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate research task id %s", t.ID)
		}
		seen[t.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Brief = brief
	s.Tasks = copyTasks(tasks)
	s.UpdatedAt = time.Now()
	return nil
}

// GetBrief returns the research brief
func (s *WorkflowState) GetBrief() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Brief
}

// GetTasks returns a copy of the research tasks in plan order
func (s *WorkflowState) GetTasks() []domain.ResearchTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTasks(s.Tasks)
}

// CompleteTasks replaces the tasks with their executed versions. The ids
// and order must match the plan.
func (s *WorkflowState) CompleteTasks(done []domain.ResearchTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(done) != len(s.Tasks) {
		return fmt.Errorf("expected %d research tasks, got %d", len(s.Tasks), len(done))
	}
	for i := range done {
		if done[i].ID != s.Tasks[i].ID {
			return fmt.Errorf("research task %d: expected id %s, got %s", i, s.Tasks[i].ID, done[i].ID)
		}
	}

	s.Tasks = copyTasks(done)
	s.UpdatedAt = time.Now()
	return nil
}

// TaskSummary counts tasks per status
type TaskSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// GetTaskStats returns statistics about tasks
func (s *WorkflowState) GetTaskStats() TaskSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := TaskSummary{Total: len(s.Tasks)}
	for _, task := range s.Tasks {
		switch task.Status {
		case domain.TaskStatusCompleted:
			stats.Completed++
		case domain.TaskStatusFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
	}
	return stats
}

// GetSnapshot returns a deep copy of the current state
func (s *WorkflowState) GetSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ChatID:       s.ChatID,
		Mode:         s.Mode,
		Messages:     copyMessages(s.Turn.Messages),
		TurnState:    s.Turn.State,
		Rounds:       s.Turn.Rounds,
		Final:        s.Turn.Final,
		Brief:        s.Brief,
		Tasks:        copyTasks(s.Tasks),
		CurrentPhase: s.CurrentPhase,
		Steps:        s.Steps,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// Snapshot is an immutable copy of a WorkflowState
type Snapshot struct {
	ChatID       string                `json:"chat_id"`
	Mode         domain.Mode           `json:"mode"`
	Messages     []domain.Message      `json:"messages"`
	TurnState    agent.State           `json:"turn_state"`
	Rounds       int                   `json:"rounds"`
	Final        string                `json:"final,omitempty"`
	Brief        string                `json:"brief,omitempty"`
	Tasks        []domain.ResearchTask `json:"tasks,omitempty"`
	CurrentPhase domain.Phase          `json:"current_phase"`
	Steps        int                   `json:"steps"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func copyMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func copyTasks(in []domain.ResearchTask) []domain.ResearchTask {
	if in == nil {
		return nil
	}
	out := make([]domain.ResearchTask, len(in))
	for i, t := range in {
		c := t
		c.Tools = append([]string(nil), t.Tools...)
		if t.Findings != nil {
			f := *t.Findings
			c.Findings = &f
		}
		out[i] = c
	}
	return out
}
