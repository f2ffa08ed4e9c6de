package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Azure/azure-resource-graph-mcp/internal/logger"
)

// TokenProvider supplies bearer tokens to the graph client.
type TokenProvider interface {
	GetToken(ctx context.Context) (*Credential, error)
	Invalidate()
}

// CredentialProvider caches one token in memory and refreshes it through its
// source once it is within skew of expiry. A single mutex serialises refreshes,
// so concurrent callers holding an expired token cause one source call.
type CredentialProvider struct {
	mode   AuthMode
	source azcore.TokenCredential
	scopes []string
	skew   time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached *Credential
}

func NewCredentialProvider(cfg AuthConfig, scope string) (*CredentialProvider, error) {
	mode := cfg.AuthMethod
	if mode == "" || mode == AuthModeAuto {
		mode = DetectAuthMode(cfg)
	}

	source, err := newTokenSource(mode, cfg)
	if err != nil {
		return nil, err
	}

	return newCredentialProvider(mode, source, scope), nil
}

func newCredentialProvider(mode AuthMode, source azcore.TokenCredential, scope string) *CredentialProvider {
	if scope == "" {
		scope = DefaultScope
	}
	return &CredentialProvider{
		mode:   mode,
		source: source,
		scopes: []string{scope},
		skew:   DefaultTokenRefreshSkew,
		now:    time.Now,
	}
}

func (p *CredentialProvider) Mode() AuthMode {
	return p.mode
}

func (p *CredentialProvider) GetToken(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Before(p.cached.ExpiresOn.Add(-p.skew)) {
		cred := *p.cached
		return &cred, nil
	}

	if p.cached != nil {
		logger.Debugf("Access token expires at %s, refreshing", p.cached.ExpiresOn.Format(time.RFC3339))
	}

	tok, err := p.source.GetToken(ctx, policy.TokenRequestOptions{Scopes: p.scopes})
	if err != nil {
		p.cached = nil
		return nil, p.classify(ctx, err)
	}

	cred := &Credential{
		Mode:      p.mode,
		Token:     tok.Token,
		ExpiresOn: tok.ExpiresOn,
	}
	cred.Principal, cred.TenantID = tokenClaims(tok.Token)
	p.cached = cred

	logger.Infof("Acquired access token via %s for %q (tenant %q), expires %s",
		p.mode, cred.Principal, cred.TenantID, cred.ExpiresOn.Format(time.RFC3339))

	out := *cred
	return &out, nil
}

func (p *CredentialProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

func (p *CredentialProvider) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{
			Type:    ErrorTypeTimeout,
			Message: "timed out acquiring an access token",
			Err:     err,
		}
	}

	var authErr *Error
	switch p.mode {
	case AuthModeServicePrincipal:
		authErr = newAuthError(ReasonInvalidCredentials, "service principal credentials were rejected by Azure AD", err)
		var failed *azidentity.AuthenticationFailedError
		if errors.As(err, &failed) && failed.RawResponse != nil {
			authErr.StatusCode = failed.RawResponse.StatusCode
		}
	case AuthModeWorkloadIdentity:
		authErr = newAuthError(ReasonNotLoggedIn, "workload identity token exchange failed; check AZURE_FEDERATED_TOKEN_FILE", err)
	case AuthModeManagedIdentity:
		authErr = newAuthError(ReasonNotLoggedIn, "managed identity endpoint did not issue a token", err)
	default:
		authErr = newAuthError(ReasonNotLoggedIn, "no Azure CLI session found; run 'az login' or configure a service principal", err)
	}

	logger.Warnf("Token acquisition via %s failed: %v", p.mode, err)
	return authErr
}

// DetectAuthMode picks a credential source from what is configured. Service
// principal secrets win, then workload identity, then a managed identity
// endpoint; with none of them the local Azure CLI session is used.
func DetectAuthMode(cfg AuthConfig) AuthMode {
	if cfg.ClientSecret != "" && cfg.ClientID != "" && cfg.TenantID != "" {
		return AuthModeServicePrincipal
	}

	if cfg.FederatedTokenFile != "" && cfg.ClientID != "" && cfg.TenantID != "" {
		return AuthModeWorkloadIdentity
	}

	if cfg.ManagedIdentityEndpoint != "" {
		return AuthModeManagedIdentity
	}

	return AuthModeCLI
}

func newTokenSource(mode AuthMode, cfg AuthConfig) (azcore.TokenCredential, error) {
	switch mode {
	case AuthModeServicePrincipal:
		if cfg.ClientSecret == "" || cfg.ClientID == "" || cfg.TenantID == "" {
			return nil, fmt.Errorf("service principal auth requires AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID")
		}
		return azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)

	case AuthModeWorkloadIdentity:
		if cfg.FederatedTokenFile == "" {
			return nil, fmt.Errorf("AZURE_FEDERATED_TOKEN_FILE not set")
		}
		return azidentity.NewWorkloadIdentityCredential(&azidentity.WorkloadIdentityCredentialOptions{
			ClientID:      cfg.ClientID,
			TenantID:      cfg.TenantID,
			TokenFilePath: cfg.FederatedTokenFile,
		})

	case AuthModeManagedIdentity:
		opts := &azidentity.ManagedIdentityCredentialOptions{}
		if cfg.ClientID != "" {
			opts.ID = azidentity.ClientID(cfg.ClientID)
		}
		return azidentity.NewManagedIdentityCredential(opts)

	case AuthModeCLI:
		return azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{
			TenantID: cfg.TenantID,
		})

	default:
		return nil, fmt.Errorf("unknown auth method: %s (supported: auto, cli, service-principal, workload-identity, managed-identity)", mode)
	}
}

// tokenClaims reads who a token was issued to. The token is not verified; the
// values are only used for logging.
func tokenClaims(token string) (principal, tenant string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", ""
	}

	for _, key := range []string{"upn", "unique_name", "appid", "oid"} {
		if v, ok := claims[key].(string); ok && v != "" {
			principal = v
			break
		}
	}
	tenant, _ = claims["tid"].(string)
	return principal, tenant
}
