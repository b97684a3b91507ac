package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/probatio/probatio/internal/common"
)

// The MCP sidecar is a stdio bridge between an agent runtime and a running
// Probatio server. It talks to the HTTP API with a tenant API key, so it
// sees exactly what that tenant sees and nothing else.
func main() {
	baseURL := os.Getenv("PROBATIO_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8085"
	}

	apiKey := os.Getenv("PROBATIO_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PROBATIO_API_KEY is required")
		os.Exit(1)
	}

	// Console-only logger at warn level; stdio carries the MCP protocol.
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	client := newAPIClient(baseURL, apiKey)

	mcpServer := server.NewMCPServer(
		"probatio",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createSearchEvidenceTool(), handleSearchEvidence(client, logger))
	mcpServer.AddTool(createGetDocumentTool(), handleGetDocument(client, logger))
	mcpServer.AddTool(createListFactsTool(), handleListFacts(client, logger))
	mcpServer.AddTool(createListQualityTool(), handleListQuality(client, logger))

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
