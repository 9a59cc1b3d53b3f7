// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes wiki page and backlink tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/backlinks/internal/apperr"
	"github.com/starford/backlinks/internal/models"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/plugin"
	"github.com/starford/backlinks/internal/query"
	"github.com/starford/backlinks/internal/wiki"
)

const formatURI = "backlinks://page-format"

// Pages is the page service the tools drive.
type Pages interface {
	PageContent(ctx context.Context, id pageid.ID) ([]byte, error)
	SavePage(ctx context.Context, id pageid.ID, content []byte, ifMatch string) (*wiki.PageDetail, bool, error)
	DeletePage(ctx context.Context, id pageid.ID) error
	RenamePage(ctx context.Context, from, to pageid.ID) (*wiki.PageDetail, error)
	ListPages(ctx context.Context, ns pageid.ID) ([]wiki.PageListItem, error)
	Backlinks(ctx context.Context, r query.Request) (pageid.ID, []models.Backlink, error)
	Render(ctx context.Context, contextID pageid.ID, block string) plugin.Result
}

// Server wraps the MCP server with page and backlink tools.
type Server struct {
	mcp   *server.MCPServer
	pages Pages
}

// New creates a new MCP server with all tools registered.
func New(pages Pages, version string) *Server {
	s := &Server{pages: pages}

	s.mcp = server.NewMCPServer(
		"Backlinks",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the pages that link to a page, ordered by id. "+
			"Use '.' for the context page and '.:name' / '..:name' for relative references."),
		mcp.WithString("page", mcp.Required(), mcp.Description("Target page id (e.g. wiki:syntax)")),
		mcp.WithString("context", mcp.Description("Page the reference is resolved from")),
		mcp.WithString("filter", mcp.Description("Namespace filter; prefix with ! to exclude (e.g. !private)")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("render_backlinks",
		mcp.WithDescription("Render a {{backlinks>page#filter}} block as it would appear on a page."),
		mcp.WithString("block", mcp.Required(), mcp.Description("Block text, e.g. {{backlinks>.#wiki}}")),
		mcp.WithString("context", mcp.Description("Page the block appears on")),
	), s.renderBacklinks)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read the raw wiki text of a page."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id (e.g. wiki:start)")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("save_page",
		mcp.WithDescription("Create or replace a page. Links in the new text are indexed immediately. "+
			"Read the format guide first via get_page_format or the "+formatURI+" resource."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id (lower-case, ':' separated namespaces)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Wiki text")),
		mcp.WithString("if_match", mcp.Description("Checksum of the revision being replaced")),
	), s.savePage)

	s.mcp.AddTool(mcp.NewTool("delete_page",
		mcp.WithDescription("Delete a page and drop it from every backlink list."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id")),
	), s.deletePage)

	s.mcp.AddTool(mcp.NewTool("rename_page",
		mcp.WithDescription("Rename a page. Links held by other pages are not rewritten."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Current page id")),
		mcp.WithString("to", mcp.Required(), mcp.Description("New page id")),
	), s.renamePage)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List all pages or the pages in a namespace."),
		mcp.WithString("namespace", mcp.Description("Optional namespace (empty for all)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("get_page_format",
		mcp.WithDescription("Returns the wiki page format guide. "+
			"Call this before saving pages to ensure links are written correctly."),
	), s.getPageFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Page Format",
			mcp.WithResourceDescription("Wiki text and link syntax understood by the backlink index."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// optString returns an optional string argument, or "".
func optString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}

// toolError turns a service error into a tool error result.
func toolError(id pageid.ID, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id))
	case errors.Is(err, apperr.ErrInvalidID):
		return mcp.NewToolResultError(fmt.Sprintf("invalid page id %q: use lower-case names separated by ':'", id))
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(fmt.Sprintf("page already exists: %s", id))
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf("checksum mismatch for %s: re-read the page and retry", id))
	case apperr.Retryable(err):
		return mcp.NewToolResultError("index temporarily unavailable, retry shortly")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := req.RequireString("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r := query.Request{
		Context: pageid.Clean(optString(req, "context")),
		Target:  page,
		Filter:  query.ParseFilter(optString(req, "filter")),
	}
	_, bl, err := s.pages.Backlinks(ctx, r)
	if err != nil {
		return toolError(pageid.ID(page), err), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	lines := make([]string, len(bl))
	for i, b := range bl {
		lines[i] = b.ID.String()
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) renderBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	block, err := req.RequireString("block")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.pages.Render(ctx, pageid.Clean(optString(req, "context")), block)
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := pageid.ID(raw)
	data, err := s.pages.PageContent(ctx, id)
	if err != nil {
		return toolError(id, err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) savePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := pageid.ID(raw)

	page, created, err := s.pages.SavePage(ctx, id, []byte(content), optString(req, "if_match"))
	if err != nil {
		return toolError(id, err), nil
	}
	verb := "updated"
	if created {
		verb = "created"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s (checksum %s)", verb, page.ID, page.Checksum)), nil
}

func (s *Server) deletePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := pageid.ID(raw)
	if err := s.pages.DeletePage(ctx, id); err != nil {
		return toolError(id, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) renamePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from := pageid.ID(raw)
	page, err := s.pages.RenamePage(ctx, from, pageid.ID(to))
	if err != nil {
		return toolError(from, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed: %s -> %s", from, page.ID)), nil
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ns := pageid.Clean(optString(req, "namespace"))
	items, err := s.pages.ListPages(ctx, ns)
	if err != nil {
		return toolError(ns, err), nil
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID.String()
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}

func (s *Server) getPageFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}
