package graph

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Azure/azure-resource-graph-mcp/internal/logger"
)

var subscriptionID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// SubscriptionResolver finds the subscription used when a request names no
// scope.
type SubscriptionResolver interface {
	DefaultSubscription(ctx context.Context) (string, error)
}

// CLISubscriptionResolver asks the local Azure CLI for its current
// subscription.
type CLISubscriptionResolver struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewCLISubscriptionResolver() *CLISubscriptionResolver {
	return &CLISubscriptionResolver{run: runCommand}
}

func (r *CLISubscriptionResolver) DefaultSubscription(ctx context.Context) (string, error) {
	output, err := r.run(ctx, "az", "account", "show", "--query", "id", "--output", "tsv")
	if err != nil {
		return "", fmt.Errorf("azure CLI account lookup failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	id := strings.TrimSpace(string(output))
	if !subscriptionID.MatchString(id) {
		return "", fmt.Errorf("azure CLI returned an unexpected subscription id %q", id)
	}
	return id, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ResolveDefaultSubscriptions returns the configured subscription when there
// is one and otherwise asks the resolver. Lookup failures are not fatal: ARG
// then applies every scope the identity can read.
func ResolveDefaultSubscriptions(ctx context.Context, configured string, mode AuthMode, resolver SubscriptionResolver) []string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return []string{configured}
	}
	if mode != AuthModeCLI || resolver == nil {
		return nil
	}

	id, err := resolver.DefaultSubscription(ctx)
	if err != nil {
		logger.Warnf("No default subscription: %v", err)
		return nil
	}
	logger.Infof("Using Azure CLI subscription %s as the default scope", id)
	return []string{id}
}
