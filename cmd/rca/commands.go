package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/server"
	"github.com/ncolesummers/research-chat-agent/pkg/stream"
)

// ServeCmd runs the API server until interrupted
type ServeCmd struct {
	Port int `help:"Override the configured API port"`
}

// Run starts the server
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Port > 0 {
		cfg.API.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	metricsPort := 0
	if cfg.Observability.Metrics.Enabled {
		metricsPort = cfg.Observability.Metrics.Port
	}
	srv, err := server.New(server.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		DoneSentinel:   cfg.API.DoneSentinel,
		AllowedOrigins: cfg.API.CORS.AllowedOrigins,
		MetricsPort:    metricsPort,
	}, a.chats, a.store, a.checkpointer)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info(context.Background(), "Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// AskCmd sends one message and prints the streamed answer
type AskCmd struct {
	Question []string `arg:"" help:"The message to send"`
	Mode     string   `short:"m" default:"simple" enum:"simple,deep_research" help:"Workflow mode"`
	Chat     string   `help:"Continue an existing chat"`
	Server   string   `help:"Base URL of a running server; runs in-process when empty"`
}

// Run streams the answer
func (c *AskCmd) Run(cli *CLI) error {
	question := strings.TrimSpace(strings.Join(c.Question, " "))
	if question == "" {
		return fmt.Errorf("no question provided")
	}
	req := domain.ChatRequest{ChatID: c.Chat, NewMessage: question, Mode: c.Mode}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &terminalPrinter{out: os.Stdout, errOut: os.Stderr}
	if c.Server != "" {
		return askRemote(ctx, strings.TrimRight(c.Server, "/"), req, printer)
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.chats.Handle(ctx, req, printer)
	if result.ChatID != "" {
		fmt.Fprintf(os.Stderr, "chat: %s\n", result.ChatID)
	}
	return err
}

// askRemote posts to a running server and replays its event stream
func askRemote(ctx context.Context, baseURL string, req domain.ChatRequest, printer stream.Emitter) error {
	body, err := json.Marshal(map[string]string{
		"chatId":     req.ChatID,
		"newMessage": req.NewMessage,
		"mode":       req.Mode,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if id := resp.Header.Get("X-Chat-ID"); id != "" {
		fmt.Fprintf(os.Stderr, "chat: %s\n", id)
	}

	parser := stream.NewParser(resp.Body)
	for {
		ev, err := parser.Next()
		if err == io.EOF {
			return fmt.Errorf("stream ended without a terminal event")
		}
		if err != nil {
			return err
		}
		if err := printer.Emit(ctx, ev); err != nil {
			return err
		}
		if ev.Type == stream.KindError {
			return fmt.Errorf("%s", ev.Error)
		}
		if ev.Type.Terminal() {
			return nil
		}
	}
}

// terminalPrinter renders protocol events for a terminal: tokens on
// stdout, tool activity on stderr
type terminalPrinter struct {
	out    io.Writer
	errOut io.Writer
}

func (p *terminalPrinter) Emit(_ context.Context, ev stream.Event) error {
	var err error
	switch ev.Type {
	case stream.KindToken:
		_, err = io.WriteString(p.out, ev.Token)
	case stream.KindToolStart:
		input, _ := json.Marshal(ev.Input)
		_, err = fmt.Fprintf(p.errOut, "\n[%s] %s\n", ev.Tool, input)
	case stream.KindToolEnd:
		_, err = fmt.Fprintf(p.errOut, "[%s] done\n", ev.Tool)
	case stream.KindDone:
		_, err = fmt.Fprintln(p.out)
	case stream.KindError:
		_, err = fmt.Fprintf(p.errOut, "\nerror: %s\n", ev.Error)
	}
	return err
}

// TitleCmd regenerates the title of a stored chat
type TitleCmd struct {
	Chat string `arg:"" help:"Chat id"`
}

// Run prints the new title
func (c *TitleCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	title, err := a.chats.Retitle(ctx, c.Chat)
	if err != nil {
		return err
	}
	fmt.Println(title)
	return nil
}
