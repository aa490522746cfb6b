// Package main is the entry point for the research chat agent.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// CLI defines the command-line interface
type CLI struct {
	Config   string `short:"c" default:"configs/default.yaml" help:"Config file path (.yaml or .toml)" type:"path"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the chat API server"`
	Ask     AskCmd     `cmd:"" help:"Ask one question and stream the answer to stdout"`
	Title   TitleCmd   `cmd:"" help:"Generate a title for a stored chat"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd shows version information
type VersionCmd struct{}

// Run prints the build information
func (c *VersionCmd) Run() error {
	fmt.Printf("Research Chat Agent\nVersion: %s\nBuild Time: %s\n", Version, BuildTime)
	return nil
}

func init() {
	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("rca"),
		kong.Description("Conversational research assistant with simple chat and deep research modes."),
		kong.UsageOnError(),
		kong.Vars{"version": Version},
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
