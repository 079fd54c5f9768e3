package records

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
)

// ToolStudentSnapshot is the MCP tool that answers student lookups.
const ToolStudentSnapshot = "student_snapshot"

// mcpCallTimeout is the per-call timeout for the snapshot tool.
const mcpCallTimeout = 30 * time.Second

// --- Server ---

// NewMCPServer exposes dir as an MCP server with the student_snapshot tool.
func NewMCPServer(dir domain.StudentDirectory, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := server.NewMCPServer(
		"teacher-agent-records",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	tool := mcp.NewTool(ToolStudentSnapshot,
		mcp.WithDescription("Look up students by name and return attendance, recent behaviour and academic records."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text request mentioning the student's name"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		snaps, err := dir.Snapshot(ctx, query)
		if err != nil {
			logger.Warn("student snapshot failed", "error", err)
			return mcp.NewToolResultErrorFromErr("student snapshot failed", err), nil
		}
		if snaps == nil {
			snaps = []domain.StudentSnapshot{}
		}
		data, err := json.Marshal(snaps)
		if err != nil {
			return nil, fmt.Errorf("encode snapshots: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	})
	return s
}

// ServeStdio runs s over in/out until ctx is cancelled or in is closed.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	if logger != nil {
		stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	}
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// --- Client ---

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPDirectory implements domain.StudentDirectory by calling the
// student_snapshot tool of an MCP server.
type MCPDirectory struct {
	name   string
	client mcpClient
	logger *slog.Logger
}

// NewMCPDirectory connects to the MCP server described by srv.
func NewMCPDirectory(ctx context.Context, srv config.MCPServer, logger *slog.Logger) (*MCPDirectory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var c *mcpclient.Client
	switch srv.Transport {
	case "stdio":
		var err error
		c, err = mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		t, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		c = mcpclient.NewClient(t)
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	if err := initializeClient(ctx, c); err != nil {
		c.Close()
		return nil, err
	}
	logger.Info("records mcp server connected", "name", srv.Name, "transport", srv.Transport)
	return newMCPDirectoryWithClient(srv.Name, c, logger), nil
}

func newMCPDirectoryWithClient(name string, c mcpClient, logger *slog.Logger) *MCPDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPDirectory{name: name, client: c, logger: logger.With("component", "records", "server", name)}
}

func initializeClient(ctx context.Context, c *mcpclient.Client) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "teacher-agent",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return domain.WrapOp("initialize", err)
	}
	return nil
}

// Snapshot implements domain.StudentDirectory.
func (d *MCPDirectory) Snapshot(ctx context.Context, query string) ([]domain.StudentSnapshot, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolStudentSnapshot
	req.Params.Arguments = map[string]any{"query": query}

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := d.client.CallTool(callCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewSubSystemError("records", "MCPDirectory.Snapshot", domain.ErrRecordStore, err.Error())
	}

	text := extractMCPText(result)
	if result.IsError {
		return nil, domain.NewSubSystemError("records", "MCPDirectory.Snapshot", domain.ErrRecordStore, text)
	}

	var snaps []domain.StudentSnapshot
	if err := json.Unmarshal([]byte(text), &snaps); err != nil {
		return nil, domain.NewSubSystemError("records", "MCPDirectory.Snapshot", domain.ErrRecordStore,
			fmt.Sprintf("decode tool result: %v", err))
	}
	d.logger.Debug("student snapshots received", "students", len(snaps))
	return snaps, nil
}

// Close shuts down the MCP connection.
func (d *MCPDirectory) Close() error {
	return d.client.Close()
}

// extractMCPText joins the text content of an MCP tool result.
func extractMCPText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// envSlice converts an env map to KEY=VALUE pairs in a stable order.
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var _ domain.StudentDirectory = (*MCPDirectory)(nil)
