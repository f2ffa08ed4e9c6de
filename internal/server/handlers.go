package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Azure/azure-resource-graph-mcp/internal/logger"
	"github.com/Azure/azure-resource-graph-mcp/pkg/graph"
)

// Handlers binds the four Resource Graph tools to a client and formatter.
// Handlers hold no per-call state.
type Handlers struct {
	client    graph.Client
	formatter *graph.Formatter
	timeout   time.Duration
}

func NewHandlers(client graph.Client, formatter *graph.Formatter, timeout time.Duration) *Handlers {
	return &Handlers{
		client:    client,
		formatter: formatter,
		timeout:   timeout,
	}
}

// Register adds every tool to the MCP server.
func (h *Handlers) Register(s *server.MCPServer) {
	s.AddTool(graph.RegisterQueryTool(), h.QueryHandler())
	s.AddTool(graph.RegisterSearchTool(), h.SearchHandler())
	s.AddTool(graph.RegisterHistoryTool(), h.HistoryHandler())
	s.AddTool(graph.RegisterOperationsTool(), h.OperationsHandler())
}

type toolFunc func(ctx context.Context, request mcp.CallToolRequest) (graph.FormattedResponse, error)

func (h *Handlers) QueryHandler() server.ToolHandlerFunc {
	return h.wrap(graph.ToolQuery, func(ctx context.Context, request mcp.CallToolRequest) (graph.FormattedResponse, error) {
		req, format, err := parseQueryRequest(request)
		if err != nil {
			return graph.FormattedResponse{}, err
		}

		result, err := h.client.Query(ctx, req)
		if err != nil {
			return graph.FormattedResponse{}, err
		}

		return h.formatter.Render(graph.Document{
			Title:  "Azure Resource Graph Query Results",
			Result: result,
		}, format), nil
	})
}

func (h *Handlers) SearchHandler() server.ToolHandlerFunc {
	return h.wrap(graph.ToolSearch, func(ctx context.Context, request mcp.CallToolRequest) (graph.FormattedResponse, error) {
		search, format, err := parseSearchRequest(request)
		if err != nil {
			return graph.FormattedResponse{}, err
		}

		req, query, err := graph.SearchQueryRequest(search)
		if err != nil {
			return graph.FormattedResponse{}, err
		}
		logger.Debugf("Search translated to query: %s", query)

		result, err := h.client.Query(ctx, req)
		if err != nil {
			return graph.FormattedResponse{}, err
		}

		criteria, field := graph.SearchCriteria(search, query)
		return h.formatter.Render(graph.Document{
			Title:    "Azure Resource Search Results",
			Preamble: criteria,
			Result:   result,
			Extra:    []graph.Field{field},
		}, format), nil
	})
}

func (h *Handlers) HistoryHandler() server.ToolHandlerFunc {
	return h.wrap(graph.ToolHistory, func(ctx context.Context, request mcp.CallToolRequest) (graph.FormattedResponse, error) {
		req, format, err := parseHistoryRequest(request)
		if err != nil {
			return graph.FormattedResponse{}, err
		}

		result, err := h.client.History(ctx, req)
		if err != nil {
			return graph.FormattedResponse{}, err
		}

		var preamble []string
		if req.Interval != "" {
			preamble = append(preamble, fmt.Sprintf("**Interval:** %s", req.Interval))
		}
		return h.formatter.Render(graph.Document{
			Title:       "Azure Resource Graph History Results",
			Preamble:    preamble,
			RowsHeading: "Changes",
			Result:      result,
		}, format), nil
	})
}

func (h *Handlers) OperationsHandler() server.ToolHandlerFunc {
	return h.wrap(graph.ToolOperations, func(ctx context.Context, request mcp.CallToolRequest) (graph.FormattedResponse, error) {
		format, err := parseFormat(request.GetArguments())
		if err != nil {
			return graph.FormattedResponse{}, err
		}

		ops, err := h.client.Operations(ctx)
		if err != nil {
			return graph.FormattedResponse{}, err
		}
		return h.formatter.RenderOperations(ops, format), nil
	})
}

// wrap applies the invocation timeout and logging, and turns every failure
// into a tool error result so nothing crosses the MCP boundary as a Go error.
func (h *Handlers) wrap(tool string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log := logger.WithFields(map[string]any{
			"tool":       tool,
			"invocation": uuid.NewString(),
		})
		start := time.Now()

		execCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		resp, err := fn(execCtx, request)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			if errors.Is(err, graph.ErrValidation) {
				log.Infof("Rejected invalid arguments after %s: %v", elapsed, err)
			} else {
				log.Warnf("Failed after %s: %v", elapsed, err)
			}
			return mcp.NewToolResultError(errorText(err)), nil
		}

		log.WithField("truncated", resp.Truncated).Infof("Completed in %s", elapsed)
		return mcp.NewToolResultText(resp.Text), nil
	}
}

func errorText(err error) string {
	var graphErr *graph.Error
	if !errors.As(err, &graphErr) {
		return fmt.Sprintf("Error: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error (%s): %s", graphErr.Type, graphErr.Message)
	if graphErr.StatusCode != 0 {
		fmt.Fprintf(&b, "\nHTTP status: %d", graphErr.StatusCode)
	}
	if graphErr.Code != "" {
		fmt.Fprintf(&b, "\nAzure error code: %s", graphErr.Code)
	}

	b.WriteString("\n\nTroubleshooting tips:")
	for _, tip := range graphErr.Remediation() {
		b.WriteString("\n- ")
		b.WriteString(tip)
	}
	return b.String()
}
