package graph

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"
)

const (
	ToolQuery      = "azure_resource_graph_query"
	ToolSearch     = "azure_resource_graph_search_resources"
	ToolHistory    = "azure_resource_graph_history"
	ToolOperations = "azure_resource_graph_operations"
)

//go:embed examples.yaml
var examplesYAML []byte

type toolCatalogue map[string]toolEntry

type toolEntry struct {
	Title    string    `yaml:"title"`
	Summary  string    `yaml:"summary"`
	Examples []example `yaml:"examples"`
	Notes    []string  `yaml:"notes"`
}

type example struct {
	Title string `yaml:"title"`
	Value string `yaml:"value"`
}

var catalogue = mustLoadCatalogue(examplesYAML)

func mustLoadCatalogue(data []byte) toolCatalogue {
	var c toolCatalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("invalid embedded tool catalogue: %v", err))
	}
	return c
}

func RegisterQueryTool() mcp.Tool {
	return mcp.NewTool(ToolQuery,
		mcp.WithDescription(generateToolDescription(ToolQuery)),
		mcp.WithTitleAnnotation(catalogue[ToolQuery].Title),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("KQL query to run (at most %d characters)", MaxQueryLength)),
		),
		scopeArray("subscriptions", "Subscription IDs to query; defaults to the configured subscription"),
		scopeArray("management_groups", "Management group IDs to query"),
		mcp.WithArray("facets",
			mcp.Description(fmt.Sprintf("Up to %d facet requests: {expression, options: {$top, filter, sortBy, sortOrder}}", MaxFacets)),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string"},
					"options": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"$top":      map[string]any{"type": "integer", "minimum": 1, "maximum": MaxTop},
							"filter":    map[string]any{"type": "string"},
							"sortBy":    map[string]any{"type": "string"},
							"sortOrder": map[string]any{"type": "string", "enum": enumStrings(armresourcegraph.PossibleFacetSortOrderValues())},
						},
					},
				},
				"required": []string{"expression"},
			}),
		),
		queryOptions(),
		responseFormat(),
	)
}

func RegisterSearchTool() mcp.Tool {
	return mcp.NewTool(ToolSearch,
		mcp.WithDescription(generateToolDescription(ToolSearch)),
		mcp.WithTitleAnnotation(catalogue[ToolSearch].Title),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("resource_type",
			mcp.Description("Resource type, e.g. Microsoft.Compute/virtualMachines"),
		),
		mcp.WithString("location",
			mcp.Description("Azure region, e.g. eastus"),
		),
		mcp.WithString("resource_group",
			mcp.Description("Resource group name"),
		),
		mcp.WithString("name_filter",
			mcp.Description("Substring the resource name must contain"),
		),
		mcp.WithString("tag_filter",
			mcp.Description("key=value for an exact tag match, or a word matched against any tag"),
		),
		scopeArray("subscriptions", "Subscription IDs to search; defaults to the configured subscription"),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of resources (default %d)", DefaultSearchLimit)),
			mcp.Min(1),
			mcp.Max(MaxTop),
			mcp.DefaultNumber(DefaultSearchLimit),
		),
		mcp.WithBoolean("include_properties",
			mcp.Description("Include the full properties object of each resource"),
			mcp.DefaultBool(false),
		),
		responseFormat(),
	)
}

func RegisterHistoryTool() mcp.Tool {
	return mcp.NewTool(ToolHistory,
		mcp.WithDescription(generateToolDescription(ToolHistory)),
		mcp.WithTitleAnnotation(catalogue[ToolHistory].Title),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("KQL query over the change history"),
		),
		scopeArray("subscriptions", "Subscription IDs to query; defaults to the configured subscription"),
		scopeArray("management_groups", "Management group IDs to query"),
		mcp.WithString("interval",
			mcp.Description("ISO 8601 duration ending now (PT1H, P7D) or start/end RFC 3339 timestamps separated by '/'"),
		),
		queryOptions(),
		responseFormat(),
	)
}

func RegisterOperationsTool() mcp.Tool {
	return mcp.NewTool(ToolOperations,
		mcp.WithDescription(generateToolDescription(ToolOperations)),
		mcp.WithTitleAnnotation(catalogue[ToolOperations].Title),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		responseFormat(),
	)
}

func scopeArray(name, description string) mcp.ToolOption {
	return mcp.WithArray(name,
		mcp.Description(fmt.Sprintf("%s (at most %d)", description, MaxScopeItems)),
		mcp.Items(map[string]any{"type": "string"}),
	)
}

func queryOptions() mcp.ToolOption {
	return mcp.WithObject("options",
		mcp.Description("Pagination and scope options"),
		mcp.Properties(map[string]any{
			"$top":                     map[string]any{"type": "integer", "minimum": 1, "maximum": MaxTop},
			"$skip":                    map[string]any{"type": "integer", "minimum": 0},
			"$skipToken":               map[string]any{"type": "string"},
			"allowPartialScopes":       map[string]any{"type": "boolean"},
			"authorizationScopeFilter": map[string]any{"type": "string", "enum": enumStrings(armresourcegraph.PossibleAuthorizationScopeFilterValues())},
			"resultFormat":             map[string]any{"type": "string", "enum": enumStrings(armresourcegraph.PossibleResultFormatValues())},
		}),
	)
}

func responseFormat() mcp.ToolOption {
	return mcp.WithString("response_format",
		mcp.Description("Output format: markdown (default) or json"),
		mcp.Enum(string(FormatMarkdown), string(FormatJSON)),
		mcp.DefaultString(string(FormatMarkdown)),
	)
}

func generateToolDescription(name string) string {
	entry := catalogue[name]

	var b strings.Builder
	b.WriteString(entry.Summary)
	b.WriteString("\n\n")

	if len(entry.Examples) > 0 {
		b.WriteString("Examples:\n")
		for _, ex := range entry.Examples {
			fmt.Fprintf(&b, "- %s: %s\n", ex.Title, ex.Value)
		}
		b.WriteString("\n")
	}

	for _, note := range entry.Notes {
		fmt.Fprintf(&b, "Note: %s\n", note)
	}

	b.WriteString("Output longer than the response limit is truncated at a row boundary with a notice explaining how to page.")
	return b.String()
}
