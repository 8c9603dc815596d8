// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes notebook recovery tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nbkeep/internal/hotexit"
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/notebook"
	"github.com/starford/nbkeep/internal/session"
)

const storageLayoutURI = "nbkeep://storage-layout"

// BackupStore is the hot-exit storage the tools inspect; *hotexit.Store
// satisfies it.
type BackupStore interface {
	ResolveDirtyContent(ctx context.Context, uri models.URI, key string) (string, bool)
	HashedPath(key string) string
	Migrated() bool
	MigrateOnce(ctx context.Context) (int, error)
}

// Server wraps the MCP server with notebook tools.
type Server struct {
	mcp      *server.MCPServer
	sessions *session.Service
	backups  BackupStore
}

// New creates a new MCP server with all notebook tools registered.
func New(sessions *session.Service, backups BackupStore) *Server {
	s := &Server{sessions: sessions, backups: backups}

	s.mcp = server.NewMCPServer(
		"nbkeep",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("load_notebook",
		mcp.WithDescription("Open a notebook, recovering unsaved content from hot-exit storage "+
			"unless skip_dirty is set. Returns cells, trust and dirty state as JSON."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Notebook identity, e.g. file:///work/a.ipynb or untitled:Untitled-1.ipynb")),
		mcp.WithBoolean("skip_dirty", mcp.Description("Load the saved file and discard the default backup")),
		mcp.WithString("backup_id", mcp.Description("Recover from this backup id instead of the default key")),
	), s.loadNotebook)

	s.mcp.AddTool(mcp.NewTool("inspect_backup",
		mcp.WithDescription("Report whether unsaved content exists for a notebook and where its backup file lives. "+
			"Read the nbkeep://storage-layout resource for the lookup order."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Notebook identity")),
		mcp.WithString("backup_id", mcp.Description("Explicit backup id (default key when empty)")),
	), s.inspectBackup)

	s.mcp.AddTool(mcp.NewTool("generate_backup_id",
		mcp.WithDescription("Generate a fresh backup id for a notebook opened with load_notebook."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Notebook identity")),
	), s.generateBackupID)

	s.mcp.AddTool(mcp.NewTool("delete_backup",
		mcp.WithDescription("Remove hot-exit data of a notebook opened with load_notebook."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Notebook identity")),
		mcp.WithString("backup_id", mcp.Description("Explicit backup id (default key when empty)")),
	), s.deleteBackup)

	s.mcp.AddTool(mcp.NewTool("migrate_legacy_storage",
		mcp.WithDescription("Move legacy key/value backups into backup files. Safe to run repeatedly."),
	), s.migrateLegacyStorage)

	s.mcp.AddResource(
		mcp.NewResource(storageLayoutURI, "Hot-Exit Storage Layout",
			mcp.WithResourceDescription("Where unsaved notebook content is stored and how it is recovered."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readStorageLayout,
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

func requireURI(req mcp.CallToolRequest) (models.URI, *mcp.CallToolResult) {
	raw, err := req.RequireString("uri")
	if err != nil {
		return models.URI{}, mcp.NewToolResultError(err.Error())
	}
	uri, err := models.ParseURI(raw)
	if err != nil {
		return models.URI{}, mcp.NewToolResultError(err.Error())
	}
	return uri, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) loadNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, errResult := requireURI(req)
	if errResult != nil {
		return errResult, nil
	}
	d, err := s.sessions.Open(ctx, session.OpenRequest{
		URI:       uri,
		SkipDirty: req.GetBool("skip_dirty", false),
		BackupID:  req.GetString("backup_id", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d), nil
}

type backupReport struct {
	URI        string `json:"uri"`
	Key        string `json:"key"`
	File       string `json:"file"`
	Present    bool   `json:"present"`
	Bytes      int    `json:"bytes"`
	Migrated   bool   `json:"legacy_migrated"`
	Untitled   bool   `json:"untitled"`
	ExplicitID bool   `json:"explicit_id"`
}

func (s *Server) inspectBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, errResult := requireURI(req)
	if errResult != nil {
		return errResult, nil
	}
	id := req.GetString("backup_id", "")
	key := notebook.UseBackupID(id).Key(uri)
	contents, ok := s.backups.ResolveDirtyContent(ctx, uri, key)
	return jsonResult(backupReport{
		URI:        uri.String(),
		Key:        key,
		File:       s.backups.HashedPath(key),
		Present:    ok,
		Bytes:      len(contents),
		Migrated:   s.backups.Migrated(),
		Untitled:   uri.IsUntitled(),
		ExplicitID: id != "",
	}), nil
}

func (s *Server) generateBackupID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, errResult := requireURI(req)
	if errResult != nil {
		return errResult, nil
	}
	id, err := s.sessions.GenerateBackupID(ctx, uri)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(id), nil
}

func (s *Server) deleteBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, errResult := requireURI(req)
	if errResult != nil {
		return errResult, nil
	}
	if err := s.sessions.DeleteBackup(ctx, uri, req.GetString("backup_id", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted backup for %s", uri)), nil
}

func (s *Server) migrateLegacyStorage(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.backups.MigrateOnce(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("migrated %d legacy entries", n)), nil
}

func (s *Server) readStorageLayout(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      storageLayoutURI,
			MIMEType: "text/markdown",
			Text:     StorageLayout,
		},
	}, nil
}

var _ BackupStore = (*hotexit.Store)(nil)
