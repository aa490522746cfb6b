// Package chat orchestrates one chat request: persistence around the
// workflow run, translation of its events, and chat titles.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"github.com/ncolesummers/research-chat-agent/pkg/stream"
	"github.com/ncolesummers/research-chat-agent/pkg/workflow"
)

// ErrEmptyMessage is returned when a request has no new message
var ErrEmptyMessage = errors.New("new message is required")

// DefaultUserID owns chats created without an explicit user
const DefaultUserID = "anonymous"

// Runner streams the raw events of a workflow run. *workflow.Engine is the
// production implementation.
type Runner interface {
	Stream(ctx context.Context, req workflow.RunRequest) <-chan events.Event
}

// Service handles chat requests
type Service struct {
	runner  Runner
	store   domain.ChatStore
	titles  *TitleGenerator
	metrics *observability.Metrics
	logger  *observability.StructuredLogger
}

// NewService creates a chat service
func NewService(runner Runner, store domain.ChatStore, titles *TitleGenerator, metrics *observability.Metrics) (*Service, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if titles == nil {
		return nil, fmt.Errorf("title generator is required")
	}
	return &Service{
		runner:  runner,
		store:   store,
		titles:  titles,
		metrics: metrics,
		logger:  observability.NewStructuredLogger("chat_service"),
	}, nil
}

// Result describes a finished request
type Result struct {
	ChatID  string
	Summary stream.Summary
}

// Prepare validates req and stores the user message. It creates the chat
// when req has no chat id. Errors returned here happen before any event is
// emitted.
func (s *Service) Prepare(ctx context.Context, req *domain.ChatRequest) error {
	req.NewMessage = strings.TrimSpace(req.NewMessage)
	if req.NewMessage == "" {
		return ErrEmptyMessage
	}

	if req.ChatID == "" {
		chat, err := s.store.CreateChat(ctx, DefaultUserID, "")
		if err != nil {
			return fmt.Errorf("failed to create chat: %w", err)
		}
		req.ChatID = chat.ID
	} else if _, err := s.store.GetChat(ctx, req.ChatID); err != nil {
		return err
	}

	if len(req.Messages) == 0 {
		stored, err := s.store.ListMessages(ctx, req.ChatID)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		for _, m := range stored {
			req.Messages = append(req.Messages, m.ToMessage())
		}
	}

	if _, err := s.store.AppendMessage(ctx, req.ChatID, domain.RoleUser, req.NewMessage); err != nil {
		return fmt.Errorf("failed to store user message: %w", err)
	}
	return nil
}

// Stream runs a prepared request and emits the protocol events to out. The
// run is detached from ctx so a client disconnect does not stop it. The
// assistant message is stored only after a done event.
func (s *Service) Stream(ctx context.Context, req domain.ChatRequest, out stream.Emitter) (Result, error) {
	mode := domain.ParseMode(req.Mode)
	runCtx := context.WithoutCancel(ctx)

	history := make([]domain.Message, 0, len(req.Messages)+1)
	history = append(history, req.Messages...)
	history = append(history, domain.NewUserMessage(req.NewMessage))

	raw := s.runner.Stream(runCtx, workflow.RunRequest{
		ChatID:   req.ChatID,
		Mode:     mode,
		Messages: history,
	})
	summary, err := stream.NewTranslator(mode, s.metrics).Translate(runCtx, raw, out)
	result := Result{ChatID: req.ChatID, Summary: summary}
	if err != nil {
		return result, err
	}

	if summary.Terminal == stream.KindDone && summary.Text != "" {
		if _, err := s.store.AppendMessage(runCtx, req.ChatID, domain.RoleAssistant, summary.Text); err != nil {
			s.logger.Error(ctx, "Failed to store assistant message", err, map[string]interface{}{
				"chat_id": req.ChatID,
			})
			return result, fmt.Errorf("failed to store assistant message: %w", err)
		}
	}
	return result, nil
}

// Handle prepares and streams a request in one call
func (s *Service) Handle(ctx context.Context, req domain.ChatRequest, out stream.Emitter) (Result, error) {
	if err := s.Prepare(ctx, &req); err != nil {
		return Result{ChatID: req.ChatID}, err
	}
	return s.Stream(ctx, req, out)
}

// Retitle generates a title from the stored messages of a chat and saves it
func (s *Service) Retitle(ctx context.Context, chatID string) (string, error) {
	stored, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return "", err
	}
	messages := make([]domain.Message, len(stored))
	for i, m := range stored {
		messages[i] = m.ToMessage()
	}

	title := s.titles.Generate(ctx, messages)
	if err := s.store.UpdateChatTitle(ctx, chatID, title); err != nil {
		return "", fmt.Errorf("failed to save title: %w", err)
	}
	return title, nil
}
