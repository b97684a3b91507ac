package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/models"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

// handleSearchEvidence implements the search_evidence tool
func handleSearchEvidence(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return textResult("Error: query parameter is required"), nil
		}

		limit := request.GetInt("limit", 10)
		if limit > 50 {
			limit = 50
		}

		mode := request.GetString("mode", "hybrid")

		req := &models.SearchRequest{
			Query:    query,
			Mode:     models.SearchMode(mode),
			Keywords: request.GetStringSlice("keywords", nil),
			Limit:    limit,
			Filters: models.SearchFilters{
				ProjectID: request.GetString("project_id", ""),
				SpanTypes: request.GetStringSlice("span_types", nil),
			},
		}

		var result models.SearchResult
		if err := client.post(ctx, "/api/search", req, &result); err != nil {
			logger.Error().Err(err).Str("mode", mode).Msg("Search failed")
			return textResult(fmt.Sprintf("Search error: %v", err)), nil
		}

		return textResult(formatSearchResult(&result)), nil
	}
}

// handleGetDocument implements the get_document tool
func handleGetDocument(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docID, err := request.RequireString("document_id")
		if err != nil || docID == "" {
			return textResult("Error: document_id parameter is required"), nil
		}

		var doc models.Document
		if err := client.get(ctx, "/api/documents/"+url.PathEscape(docID), nil, &doc); err != nil {
			logger.Error().Err(err).Str("doc_id", docID).Msg("Get document failed")
			return textResult(fmt.Sprintf("Document not found: %v", err)), nil
		}

		var versions struct {
			Versions []*models.DocumentVersion `json:"versions"`
		}
		if err := client.get(ctx, "/api/documents/"+url.PathEscape(docID)+"/versions", nil, &versions); err != nil {
			logger.Warn().Err(err).Str("doc_id", docID).Msg("List versions failed")
		}

		return textResult(formatDocument(&doc, versions.Versions)), nil
	}
}

// handleListFacts implements the list_facts tool
func handleListFacts(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		versionID, err := request.RequireString("version_id")
		if err != nil || versionID == "" {
			return textResult("Error: version_id parameter is required"), nil
		}

		query := url.Values{}
		if pc := request.GetString("process_context", ""); pc != "" {
			query.Set("process_context", pc)
		}

		var bundle models.FactBundle
		if err := client.get(ctx, "/api/versions/"+url.PathEscape(versionID)+"/facts", query, &bundle); err != nil {
			logger.Error().Err(err).Str("version_id", versionID).Msg("List facts failed")
			return textResult(fmt.Sprintf("Facts error: %v", err)), nil
		}

		return textResult(formatFacts(versionID, &bundle)), nil
	}
}

// handleListQuality implements the list_quality tool
func handleListQuality(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		versionID, err := request.RequireString("version_id")
		if err != nil || versionID == "" {
			return textResult("Error: version_id parameter is required"), nil
		}

		var report struct {
			Conflicts     []*models.Conflict     `json:"conflicts"`
			OpenQuestions []*models.OpenQuestion `json:"open_questions"`
		}
		if err := client.get(ctx, "/api/versions/"+url.PathEscape(versionID)+"/quality", nil, &report); err != nil {
			logger.Error().Err(err).Str("version_id", versionID).Msg("List quality failed")
			return textResult(fmt.Sprintf("Quality error: %v", err)), nil
		}

		return textResult(formatQuality(versionID, report.Conflicts, report.OpenQuestions)), nil
	}
}
