package graph

import (
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRegisterTools(t *testing.T) {
	tests := []struct {
		tool     mcp.Tool
		name     string
		required []string
		props    []string
	}{
		{
			tool:     RegisterQueryTool(),
			name:     ToolQuery,
			required: []string{"query"},
			props:    []string{"query", "subscriptions", "management_groups", "facets", "options", "response_format"},
		},
		{
			tool:  RegisterSearchTool(),
			name:  ToolSearch,
			props: []string{"resource_type", "location", "resource_group", "name_filter", "tag_filter", "subscriptions", "limit", "include_properties", "response_format"},
		},
		{
			tool:     RegisterHistoryTool(),
			name:     ToolHistory,
			required: []string{"query"},
			props:    []string{"query", "subscriptions", "management_groups", "interval", "options", "response_format"},
		},
		{
			tool:  RegisterOperationsTool(),
			name:  ToolOperations,
			props: []string{"response_format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.tool.Name != tt.name {
				t.Errorf("Name = %q, want %q", tt.tool.Name, tt.name)
			}
			if tt.tool.Description == "" {
				t.Error("Description is empty")
			}
			if tt.tool.Annotations.Title == "" {
				t.Error("Title annotation is empty")
			}
			if ro := tt.tool.Annotations.ReadOnlyHint; ro == nil || !*ro {
				t.Error("ReadOnlyHint should be true")
			}
			if d := tt.tool.Annotations.DestructiveHint; d == nil || *d {
				t.Error("DestructiveHint should be false")
			}

			for _, p := range tt.props {
				if _, ok := tt.tool.InputSchema.Properties[p]; !ok {
					t.Errorf("missing property %q", p)
				}
			}
			if len(tt.tool.InputSchema.Required) != len(tt.required) {
				t.Errorf("Required = %v, want %v", tt.tool.InputSchema.Required, tt.required)
			}
		})
	}
}

func TestGenerateToolDescription_UsesCatalogue(t *testing.T) {
	desc := generateToolDescription(ToolQuery)
	for _, want := range []string{"Kusto", "Examples:", "Count resources by type", "summarize count() by type", "Note: Use =~"} {
		if !strings.Contains(desc, want) {
			t.Errorf("description missing %q:\n%s", want, desc)
		}
	}

	ops := generateToolDescription(ToolOperations)
	if strings.Contains(ops, "Examples:") {
		t.Error("operations description should not list examples")
	}
}

func TestCatalogue_HasEveryTool(t *testing.T) {
	for _, name := range []string{ToolQuery, ToolSearch, ToolHistory, ToolOperations} {
		entry, ok := catalogue[name]
		if !ok {
			t.Errorf("catalogue has no entry for %s", name)
			continue
		}
		if entry.Title == "" || entry.Summary == "" {
			t.Errorf("catalogue entry for %s is incomplete", name)
		}
	}
}
