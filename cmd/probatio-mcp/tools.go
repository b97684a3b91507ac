package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createSearchEvidenceTool returns the search_evidence tool definition
func createSearchEvidenceTool() mcp.Tool {
	return mcp.NewTool("search_evidence",
		mcp.WithDescription("Search the evidence repository; every hit carries a span citation (document, version, locator)"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query text"),
		),
		mcp.WithString("mode",
			mcp.Description("Search mode: semantic, keyword, hybrid, two_stage, discovery (default: hybrid)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default: 10, max: 50)"),
		),
		mcp.WithString("project_id",
			mcp.Description("Restrict the search to one project"),
		),
		mcp.WithArray("keywords",
			mcp.WithStringItems(),
			mcp.Description("Keywords that must all appear (keyword and hybrid modes)"),
		),
		mcp.WithArray("span_types",
			mcp.WithStringItems(),
			mcp.Description("Filter by span type: text, heading, citation, footnote, table, figure"),
		),
	)
}

// createGetDocumentTool returns the get_document tool definition
func createGetDocumentTool() mcp.Tool {
	return mcp.NewTool("get_document",
		mcp.WithDescription("Retrieve a document's metadata and its versions by ID"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document ID (format: doc_{uuid})"),
		),
	)
}

// createListFactsTool returns the list_facts tool definition
func createListFactsTool() mcp.Tool {
	return mcp.NewTool("list_facts",
		mcp.WithDescription("List extracted facts (claims, metrics, constraints, risks) for a document version"),
		mcp.WithString("version_id",
			mcp.Required(),
			mcp.Description("Document version ID (format: ver_{uuid})"),
		),
		mcp.WithString("process_context",
			mcp.Description("Filter by business process context, e.g. vc.ic_decision"),
		),
	)
}

// createListQualityTool returns the list_quality tool definition
func createListQualityTool() mcp.Tool {
	return mcp.NewTool("list_quality",
		mcp.WithDescription("List conflicts and open questions raised by the quality analyzer for a document version"),
		mcp.WithString("version_id",
			mcp.Required(),
			mcp.Description("Document version ID (format: ver_{uuid})"),
		),
	)
}
