package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Azure/azure-resource-graph-mcp/internal/logger"
	"github.com/Azure/azure-resource-graph-mcp/internal/version"
	"github.com/Azure/azure-resource-graph-mcp/pkg/graph"
)

//go:embed info.md
var infoTemplate string

type Endpoint struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

type toolInfo struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// ServerInfo describes the running server for the / and /mcp-info pages.
type ServerInfo struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Build     map[string]string `json:"build"`
	Transport string            `json:"transport"`
	Endpoints []Endpoint        `json:"endpoints"`
	Tools     []toolInfo        `json:"tools"`
	MaxChars  int               `json:"maxChars"`
	Timeout   string            `json:"timeout"`
}

func NewServerInfo(transport string, endpoints []Endpoint, maxChars int, timeout time.Duration) ServerInfo {
	var tools []toolInfo
	for _, t := range []struct{ name, title string }{
		{graph.ToolQuery, graph.RegisterQueryTool().Annotations.Title},
		{graph.ToolSearch, graph.RegisterSearchTool().Annotations.Title},
		{graph.ToolHistory, graph.RegisterHistoryTool().Annotations.Title},
		{graph.ToolOperations, graph.RegisterOperationsTool().Annotations.Title},
	} {
		tools = append(tools, toolInfo{Name: t.name, Title: t.title})
	}

	return ServerInfo{
		Name:      version.ServerName,
		Version:   version.GetVersion(),
		Build:     version.GetVersionInfo(),
		Transport: transport,
		Endpoints: endpoints,
		Tools:     tools,
		MaxChars:  maxChars,
		Timeout:   timeout.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to write response: %v", err)
	}
}

func HealthHandler(transport string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"version":   version.GetVersion(),
			"transport": transport,
		})
	}
}

// InfoHandler serves the server description as JSON on "/" only.
func InfoHandler(info ServerInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// InfoPageHandler serves the HTML info page. The page is rendered once.
func InfoPageHandler(info ServerInfo) (http.HandlerFunc, error) {
	page, err := renderInfoPage(info)
	if err != nil {
		return nil, err
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(page)
	}, nil
}

func renderInfoPage(info ServerInfo) ([]byte, error) {
	tmpl, err := template.New("info").Parse(infoTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse info template: %w", err)
	}

	var source bytes.Buffer
	if err := tmpl.Execute(&source, info); err != nil {
		return nil, fmt.Errorf("failed to render info template: %w", err)
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	if err := md.Convert(source.Bytes(), &body); err != nil {
		return nil, fmt.Errorf("failed to render info page: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n",
		template.HTMLEscapeString(info.Name))
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}
