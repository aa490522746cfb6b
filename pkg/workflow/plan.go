package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

const (
	// DefaultMaxTasks caps the number of research tasks per plan
	DefaultMaxTasks = 5

	fallbackTaskID       = "task_1"
	fallbackTaskQuestion = "Comprehensive research on the topic"
)

var planBlock = regexp.MustCompile(`(?s)RESEARCH_PLAN_START\s*(.*?)\s*RESEARCH_PLAN_END`)

// Plan is the parsed output of the planning step
type Plan struct {
	Brief string
	Tasks []domain.ResearchTask
	// Fallback is set when the response held no usable plan.
	Fallback bool
	// Err explains why the fallback was used.
	Err error
}

type planTask struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Tools    []string `json:"tools"`
}

type planJSON struct {
	ResearchBrief string     `json:"research_brief"`
	Objective     string     `json:"objective"`
	ResearchTasks []planTask `json:"research_tasks"`
	Tasks         []planTask `json:"tasks"`
}

// ParsePlan extracts the research plan from a planning response. Any
// failure yields a single task covering the whole question, with the full
// response as the brief.
func ParsePlan(response string, maxTasks int) Plan {
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}

	plan, err := parsePlan(response, maxTasks)
	if err != nil {
		return Plan{
			Brief: response,
			Tasks: []domain.ResearchTask{{
				ID:       fallbackTaskID,
				Question: fallbackTaskQuestion,
				Tools:    []string{},
				Status:   domain.TaskStatusPending,
			}},
			Fallback: true,
			Err:      err,
		}
	}
	return plan
}

func parsePlan(response string, maxTasks int) (Plan, error) {
	match := planBlock.FindStringSubmatch(response)
	if match == nil {
		return Plan{}, fmt.Errorf("no RESEARCH_PLAN block in response")
	}

	var raw planJSON
	if err := json.Unmarshal([]byte(stripCodeFence(match[1])), &raw); err != nil {
		return Plan{}, fmt.Errorf("invalid plan JSON: %w", err)
	}

	rawTasks := raw.ResearchTasks
	if len(rawTasks) == 0 {
		rawTasks = raw.Tasks
	}

	tasks := make([]domain.ResearchTask, 0, len(rawTasks))
	seen := make(map[string]bool)
	for _, rt := range rawTasks {
		question := strings.TrimSpace(rt.Question)
		if question == "" {
			continue
		}
		if len(tasks) == maxTasks {
			break
		}
		id := strings.TrimSpace(rt.ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("task_%d", len(tasks)+1)
			for seen[id] {
				id += "_"
			}
		}
		seen[id] = true
		toolNames := rt.Tools
		if toolNames == nil {
			toolNames = []string{}
		}
		tasks = append(tasks, domain.ResearchTask{
			ID:       id,
			Question: question,
			Tools:    toolNames,
			Status:   domain.TaskStatusPending,
		})
	}
	if len(tasks) == 0 {
		return Plan{}, fmt.Errorf("plan contains no research tasks")
	}

	brief := strings.TrimSpace(raw.ResearchBrief)
	if brief == "" {
		brief = strings.TrimSpace(raw.Objective)
	}
	if brief == "" {
		brief = response
	}
	return Plan{Brief: brief, Tasks: tasks}, nil
}

// stripCodeFence removes a surrounding ``` block the model sometimes adds
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
