// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the preview and publish actions for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/hexobridge/internal/models"
	"github.com/starford/hexobridge/internal/session"
	"github.com/starford/hexobridge/internal/settings"
	"github.com/starford/hexobridge/internal/supervisor"
)

// StatusURI is the resource holding the current session status.
const StatusURI = "hexobridge://status"

// Session is the part of *session.Session the tools drive.
type Session interface {
	Preview(ctx context.Context, notePath string) (models.NoteRef, error)
	Publish(ctx context.Context, notePath string) (models.NoteRef, error)
	StopPreview() error
	Wait(ctx context.Context, role models.Role) (models.ProcessStatus, error)
	Status() session.Status
	Settings() settings.Settings
}

// Server wraps the MCP server with the hexobridge tools.
type Server struct {
	mcp  *server.MCPServer
	sess Session
}

// New creates a new MCP server with all tools registered.
func New(sess Session, version string) *Server {
	s := &Server{sess: sess}

	s.mcp = server.NewMCPServer(
		"hexobridge",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("preview_note",
		mcp.WithDescription("Copy a note and its assets into the blog drafts and (re)start the local Hexo preview server. "+
			"Returns the preview URL once the server has been started; it becomes reachable shortly after."),
		mcp.WithString("note", mcp.Description("Vault-relative path of the Markdown note (default: the active note)")),
	), s.previewNote)

	s.mcp.AddTool(mcp.NewTool("publish_note",
		mcp.WithDescription("Copy a note and its assets into the blog posts and run hexo deploy. "+
			"Drafts are removed after a successful deploy."),
		mcp.WithString("note", mcp.Description("Vault-relative path of the Markdown note (default: the active note)")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the deploy to finish and report its exit code")),
	), s.publishNote)

	s.mcp.AddTool(mcp.NewTool("stop_preview",
		mcp.WithDescription("Stop the local Hexo preview server."),
	), s.stopPreview)

	s.mcp.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Report the preview and publish process states, the open panel and the active note."),
	), s.getStatus)

	s.mcp.AddTool(mcp.NewTool("get_settings",
		mcp.WithDescription("Report the Hexo project path, launcher path and preview port."),
	), s.getSettings)

	s.mcp.AddResource(
		mcp.NewResource(StatusURI, "Session Status",
			mcp.WithResourceDescription("Current preview and publish process states."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStatusResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) previewNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note, err := s.sess.Preview(ctx, req.GetString("note", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("previewing %s at %s", note.Path, s.sess.Settings().PreviewURL())), nil
}

func (s *Server) publishNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note, err := s.sess.Publish(ctx, req.GetString("note", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !req.GetBool("wait", false) {
		return mcp.NewToolResultText(fmt.Sprintf("publishing %s", note.Path)), nil
	}

	st, err := s.sess.Wait(ctx, models.RolePublish)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	switch {
	case st.ExitCode == nil:
		return mcp.NewToolResultError("deploy was interrupted"), nil
	case *st.ExitCode != 0:
		return mcp.NewToolResultError(fmt.Sprintf("deploy failed with code %d", *st.ExitCode)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("published %s", note.Path)), nil
}

func (s *Server) stopPreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	err := s.sess.StopPreview()
	switch {
	case errors.Is(err, supervisor.ErrNoProcess):
		return mcp.NewToolResultText("preview server is not running"), nil
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("preview server stopping"), nil
}

func (s *Server) getStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sess.Status()), nil
}

func (s *Server) getSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sess.Settings()), nil
}

func (s *Server) readStatusResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.sess.Status(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StatusURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
