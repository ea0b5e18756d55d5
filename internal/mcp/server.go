// Package mcp provides a Model Context Protocol server for stashsift.
//
// It exposes the query pipeline (ask a question, get ranked entities with
// evidence), the import engine, and store statistics as MCP tools, plus
// stats and recent items as MCP resources. Transport is stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stashsift/stashsift/internal/ingest"
	"github.com/stashsift/stashsift/internal/query"
	"github.com/stashsift/stashsift/internal/rank"
	"github.com/stashsift/stashsift/internal/store"
	"github.com/stashsift/stashsift/internal/view"
)

// ServerConfig holds the collaborators the MCP server exposes.
type ServerConfig struct {
	Store    store.Store
	Views    *view.Manager
	Engine   *rank.Engine
	Importer *ingest.Engine
	Version  string
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and a query
// racing an import could read a half-written snapshot. A global mutex
// ensures imports complete before queries see their data.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all stashsift tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"stashsift",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	parser := query.NewParser()

	registerQueryTool(s, parser, cfg.Engine)
	registerImportTool(s, cfg.Importer)
	registerStatsTool(s, cfg.Store)
	registerRebuildTool(s, cfg.Views)

	registerStatsResource(s, cfg.Store)
	registerRecentResource(s, cfg.Store)

	return s
}

func registerQueryTool(s *server.MCPServer, parser *query.Parser, engine *rank.Engine) {
	tool := mcp.NewTool("stash_query",
		mcp.WithDescription("Ask a natural-language question about saved content, e.g. 'top 3 restaurants I saved in Paris last month'. Returns ranked entities with supporting evidence, or suggestions when nothing matches."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results when the question does not name a count (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcp.NewToolResultError("question is required"), nil
		}

		intent := parser.Parse(question)

		if limitVal, err := req.RequireFloat("limit"); err == nil && intent.Constraints.RequestedCount == 0 {
			limit := int(limitVal)
			if limit > 50 {
				limit = 50
			}
			if limit > 0 {
				intent.Constraints.RequestedCount = limit
			}
		}

		outcome, err := engine.Answer(ctx, intent.Constraints)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(outcome, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerImportTool(s *server.MCPServer, importer *ingest.Engine) {
	tool := mcp.NewTool("stash_import",
		mcp.WithDescription("Import a saved-content export file or directory (JSON or YAML). Items and their entity mentions are stored; re-importing the same export is safe."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to an export file or directory"),
		),
		mcp.WithBoolean("recursive",
			mcp.Description("Recurse into subdirectories (default: false)"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Parse and count without writing (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		path, err := req.RequireString("path")
		if err != nil || strings.TrimSpace(path) == "" {
			return mcp.NewToolResultError("path is required"), nil
		}

		opts := ingest.Options{}
		if v, err := req.RequireBool("recursive"); err == nil {
			opts.Recursive = v
		}
		if v, err := req.RequireBool("dry_run"); err == nil {
			opts.DryRun = v
		}

		result, err := importer.ImportPath(ctx, path, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("stash_stats",
		mcp.WithDescription("Get stashsift storage statistics: item count, entity mention count, cached view count, and database size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerRebuildTool(s *server.MCPServer, views *view.Manager) {
	tool := mcp.NewTool("stash_rebuild",
		mcp.WithDescription("Force a rebuild of the aggregated-entity view, bypassing caches. Useful after editing the synonym table."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		snap, err := views.Rebuild(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("rebuild error: %v", err)), nil
		}

		result := map[string]interface{}{
			"version":  snap.Version,
			"built_at": snap.BuiltAt.Format(time.RFC3339),
			"entities": len(snap.Entities),
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"stashsift://stats",
		"Storage Statistics",
		mcp.WithResourceDescription("Item, entity, and view counts plus database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerRecentResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"stashsift://recent",
		"Recent Items",
		mcp.WithResourceDescription("The 20 most recently saved content items."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		items, err := st.ListItems(ctx, store.ListOpts{Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("listing recent items: %w", err)
		}

		type recentItem struct {
			ID       string `json:"id"`
			Author   string `json:"author,omitempty"`
			Caption  string `json:"caption"`
			PostedAt string `json:"posted_at"`
			Likes    int64  `json:"likes"`
		}
		recent := make([]recentItem, 0, len(items))
		for _, it := range items {
			caption := it.Caption
			if len(caption) > 200 {
				caption = caption[:200] + "..."
			}
			recent = append(recent, recentItem{
				ID:       it.ID,
				Author:   it.Author,
				Caption:  caption,
				PostedAt: it.PostedAt.Format(time.RFC3339),
				Likes:    it.Engagement.Likes,
			})
		}

		data, _ := json.MarshalIndent(recent, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
