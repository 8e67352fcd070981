package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashureev/bookspirit/internal/mcptool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio.

Tools:
  ask_book_spirit   send a reader's message and return the reply
  reading_context   show the context snapshot used for a reader

Example client configuration:

  {
    "mcpServers": {
      "bookspirit": {
        "command": "bookspirit",
        "args": ["mcp", "--db", "/path/to/bookspirit.db"],
        "env": {
          "AI_API_KEY": "..."
        }
      }
    }
  }

Logs are written to stderr; stdout carries the protocol.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	return mcptool.NewServer(a.engine, version).Run()
}
