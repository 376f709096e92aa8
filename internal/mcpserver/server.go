// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Quill note operations for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/quill/internal/api"
	"github.com/starford/quill/internal/models"
)

// Server wraps the MCP server with Quill tools.
type Server struct {
	mcp  *server.MCPServer
	ctrl api.Controller
}

// New creates a new MCP server with all Quill tools registered.
func New(ctrl api.Controller, version string) *Server {
	s := &Server{ctrl: ctrl}

	s.mcp = server.NewMCPServer(
		"Quill",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the notes currently held by this session, in display order."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Return the full application state: notes, loading and error flags, and the draft form."),
	), s.getState)

	s.mcp.AddTool(mcp.NewTool("set_input",
		mcp.WithDescription("Set one field of the draft form."),
		mcp.WithString("field", mcp.Required(), mcp.Enum(models.FieldName, models.FieldDescription),
			mcp.Description("Form field to change")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New field value")),
	), s.setInput)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note. Sets the draft name and description, then submits the form. "+
			"Both fields must be non-empty."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Note description")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to delete")),
	), s.deleteNote)

	s.mcp.AddResource(
		mcp.NewResource("quill://state", "Application State",
			mcp.WithResourceDescription("Current notes, flags and draft form as JSON."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStateResource,
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

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes := s.ctrl.State().Notes
	if len(notes) == 0 {
		return mcp.NewToolResultText("no notes"), nil
	}
	out, _ := json.MarshalIndent(notes, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(api.Snapshot(s.ctrl), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) setInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	field, err := req.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if field != models.FieldName && field != models.FieldDescription {
		return mcp.NewToolResultError(fmt.Sprintf("unknown form field: %s", field)), nil
	}
	s.ctrl.ChangeInput(field, value)
	return mcp.NewToolResultText(fmt.Sprintf("%s set", field)), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	description, err := req.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	note, v := s.ctrl.Submit(ctx, models.Form{Name: name, Description: description})
	if !v.OK() {
		return mcp.NewToolResultError(v.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", note.ID)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.ctrl.Delete(ctx, id)
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) readStateResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.Marshal(api.Snapshot(s.ctrl))
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "quill://state",
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
