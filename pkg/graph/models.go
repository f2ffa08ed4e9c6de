package graph

import (
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

const (
	DefaultEndpoint         = "https://management.azure.com"
	DefaultScope            = "https://management.azure.com/.default"
	ResourcesAPIVersion     = "2024-04-01"
	HistoryAPIVersion       = "2021-06-01-preview"
	OperationsAPIVersion    = "2022-10-01"
	DefaultCharacterLimit   = 25000
	MinCharacterLimit       = 2000
	DefaultSearchLimit      = 50
	MaxQueryLength          = 10000
	MaxScopeItems           = 1000
	MaxFacets               = 10
	MaxTop                  = 1000
	DefaultTokenRefreshSkew = 5 * time.Minute
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

type AuthMode string

const (
	AuthModeAuto             AuthMode = "auto"
	AuthModeCLI              AuthMode = "cli"
	AuthModeServicePrincipal AuthMode = "service-principal"
	AuthModeWorkloadIdentity AuthMode = "workload-identity"
	AuthModeManagedIdentity  AuthMode = "managed-identity"
)

// Credential is a bearer token and what it was issued for.
type Credential struct {
	Mode      AuthMode
	Token     string
	ExpiresOn time.Time
	Principal string
	TenantID  string
}

type QueryOptions struct {
	Top                      *int
	Skip                     *int
	SkipToken                string
	AllowPartialScopes       *bool
	AuthorizationScopeFilter string
	ResultFormat             string
}

type FacetOptions struct {
	Top       *int
	Filter    string
	SortBy    string
	SortOrder string
}

type FacetRequest struct {
	Expression string
	Options    *FacetOptions
}

type QueryRequest struct {
	Query            string
	Subscriptions    []string
	ManagementGroups []string
	Facets           []FacetRequest
	Options          *QueryOptions
}

type HistoryRequest struct {
	Query            string
	Subscriptions    []string
	ManagementGroups []string
	Options          *QueryOptions
	Interval         string
}

type SearchRequest struct {
	ResourceType      string
	Location          string
	ResourceGroup     string
	NameFilter        string
	TagFilter         string
	Subscriptions     []string
	Limit             *int
	IncludeProperties bool
}

type AuthConfig struct {
	AuthMethod         AuthMode
	TenantID           string
	ClientID           string
	ClientSecret       string
	FederatedTokenFile string

	// ManagedIdentityEndpoint is MSI_ENDPOINT or IDENTITY_ENDPOINT when the
	// host provides a managed identity.
	ManagedIdentityEndpoint string
}

type ClientConfig struct {
	Endpoint             string
	Timeout              time.Duration
	DefaultSubscriptions []string
	Version              string

	// Transport overrides the HTTP sender; nil uses the azcore default.
	Transport policy.Transporter
}
