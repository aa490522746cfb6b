package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// ErrToolNotFound reports a tool call for a name that is not registered
var ErrToolNotFound = errors.New("tool not found")

// ToolNotFoundError carries the name of the missing tool
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %s not found", e.Name)
}

// Is makes errors.Is(err, ErrToolNotFound) match
func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// BasicRegistry is a simple implementation of ToolRegistry
type BasicRegistry struct {
	mu    sync.RWMutex
	tools map[string]domain.Tool
}

// NewBasicRegistry creates a new basic tool registry
func NewBasicRegistry(tools ...domain.Tool) (*BasicRegistry, error) {
	r := &BasicRegistry{
		tools: make(map[string]domain.Tool),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register registers a new tool
func (r *BasicRegistry) Register(tool domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name
func (r *BasicRegistry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &ToolNotFoundError{Name: name}
	}

	return tool, nil
}

// List returns all registered tools sorted by name
func (r *BasicRegistry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })

	return tools
}

// Names returns the registered tool names sorted
func (r *BasicRegistry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// Clone returns an independent registry. Tools implementing
// domain.CloneableTool are cloned; stateless tools are shared.
func (r *BasicRegistry) Clone() domain.ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &BasicRegistry{tools: make(map[string]domain.Tool, len(r.tools))}
	for name, tool := range r.tools {
		if c, ok := tool.(domain.CloneableTool); ok {
			clone.tools[name] = c.Clone()
			continue
		}
		clone.tools[name] = tool
	}
	return clone
}
