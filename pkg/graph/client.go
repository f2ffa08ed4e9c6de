package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Azure/azure-resource-graph-mcp/internal/logger"
)

const (
	pipelineModule    = "azure-resource-graph-mcp"
	tracerName        = "github.com/Azure/azure-resource-graph-mcp/pkg/graph"
	defaultRetryDelay = 50 * time.Millisecond
)

type Client interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
	History(ctx context.Context, req HistoryRequest) (*QueryResult, error)
	Operations(ctx context.Context) (*OperationsResult, error)
}

// DefaultClient sends requests built by a RequestBuilder through an azcore
// pipeline. The pipeline's own retries are disabled; the only retry is one
// token refresh after a 401.
type DefaultClient struct {
	builder    *RequestBuilder
	tokens     TokenProvider
	pipeline   runtime.Pipeline
	tracer     trace.Tracer
	retryDelay time.Duration
}

func NewClient(cfg ClientConfig, tokens TokenProvider) *DefaultClient {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	opts := &policy.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: -1},
	}
	if cfg.Transport != nil {
		opts.Transport = cfg.Transport
	}
	if cfg.Timeout > 0 {
		opts.Retry.TryTimeout = cfg.Timeout
	}

	pipeline := runtime.NewPipeline(pipelineModule, version, runtime.PipelineOptions{
		PerRetry: []policy.Policy{
			&bearerTokenPolicy{tokens: tokens},
		},
	}, opts)

	return &DefaultClient{
		builder:    NewRequestBuilder(cfg.Endpoint, cfg.DefaultSubscriptions),
		tokens:     tokens,
		pipeline:   pipeline,
		tracer:     otel.Tracer(tracerName),
		retryDelay: defaultRetryDelay,
	}
}

// Builder exposes the request builder so callers can validate input up front.
func (c *DefaultClient) Builder() *RequestBuilder {
	return c.builder
}

func (c *DefaultClient) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	body, err := c.send(ctx, "query", func(ctx context.Context) (*policy.Request, error) {
		return c.builder.BuildQuery(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrRemote(DecodeQueryResult(body))
}

func (c *DefaultClient) History(ctx context.Context, req HistoryRequest) (*QueryResult, error) {
	body, err := c.send(ctx, "history", func(ctx context.Context) (*policy.Request, error) {
		return c.builder.BuildHistory(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrRemote(DecodeQueryResult(body))
}

func (c *DefaultClient) Operations(ctx context.Context) (*OperationsResult, error) {
	body, err := c.send(ctx, "operations", c.builder.BuildOperations)
	if err != nil {
		return nil, err
	}
	return decodeOrRemote(DecodeOperations(body))
}

func decodeOrRemote[T any](v *T, err error) (*T, error) {
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeRemote,
			Message: "Azure Resource Graph returned a body that is not valid JSON",
			Err:     err,
		}
	}
	return v, nil
}

// send builds and sends one request. The request is rebuilt for the retry so
// its body can be read again.
func (c *DefaultClient) send(ctx context.Context, op string, build func(context.Context) (*policy.Request, error)) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "graph."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var (
		body      []byte
		attempts  int
		refreshed bool
	)

	backoff := retry.WithMaxRetries(1, retry.NewConstant(c.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		req, err := build(ctx)
		if err != nil {
			return err
		}

		resp, err := c.pipeline.Do(req)
		if err != nil {
			return transportError(ctx, err)
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		payload, err := runtime.Payload(resp)
		if err != nil {
			return transportError(ctx, err)
		}

		if runtime.HasStatusCode(resp, http.StatusOK) {
			body = payload
			return nil
		}

		apiErr := classifyResponse(resp, payload)
		if resp.StatusCode == http.StatusUnauthorized && !refreshed {
			refreshed = true
			logger.Infof("Azure Resource Graph rejected the access token, refreshing and retrying once")
			c.tokens.Invalidate()
			return retry.RetryableError(apiErr)
		}
		return apiErr
	})

	span.SetAttributes(
		attribute.String("graph.operation", op),
		attribute.Int("graph.attempts", attempts),
	)

	if err != nil {
		err = contextError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return body, nil
}

// contextError maps a deadline that expired while waiting between attempts.
func contextError(ctx context.Context, err error) error {
	var graphErr *Error
	if errors.As(err, &graphErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Type: ErrorTypeTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Type: ErrorTypeRequest, Message: err.Error(), Err: err}
}

func transportError(ctx context.Context, err error) error {
	var graphErr *Error
	if errors.As(err, &graphErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Type: ErrorTypeTimeout, Message: "request to Azure Resource Graph timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: ErrorTypeRequest, Message: "request was cancelled", Err: err}
	}
	return &Error{
		Type:    ErrorTypeRequest,
		Message: fmt.Sprintf("failed to reach Azure Resource Graph: %v", err),
		Err:     err,
	}
}

// classifyResponse turns a non-200 answer into a typed error, pulling code,
// message and detail messages out of the ARG error envelope.
func classifyResponse(resp *http.Response, payload []byte) *Error {
	code := gjson.GetBytes(payload, "error.code").String()
	message := gjson.GetBytes(payload, "error.message").String()
	if message == "" {
		message = fmt.Sprintf("Azure Resource Graph returned HTTP %d", resp.StatusCode)
	}

	var details []string
	for _, d := range gjson.GetBytes(payload, "error.details.#.message").Array() {
		if s := strings.TrimSpace(d.String()); s != "" && s != message {
			details = append(details, s)
		}
	}
	if len(details) > 0 {
		message += ": " + strings.Join(details, "; ")
	}

	e := &Error{
		Message:    message,
		StatusCode: resp.StatusCode,
		Code:       code,
		Context:    make(map[string]any),
		Err:        runtime.NewResponseError(resp),
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		e.Type = ErrorTypeBadQuery
	case http.StatusUnauthorized:
		e.Type = ErrorTypeAuth
		e.Reason = ReasonRejected
	case http.StatusForbidden:
		e.Type = ErrorTypeForbidden
	case http.StatusTooManyRequests:
		e.Type = ErrorTypeThrottled
		for _, h := range []string{"Retry-After", "x-ms-user-quota-resets-after"} {
			if v := resp.Header.Get(h); v != "" {
				e.WithContext("retryAfter", v)
				break
			}
		}
		if v := resp.Header.Get("x-ms-user-quota-remaining"); v != "" {
			e.WithContext("quotaRemaining", v)
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Type = ErrorTypeTimeout
	default:
		e.Type = ErrorTypeRemote
	}

	logger.Debugf("Azure Resource Graph error: status=%d code=%s message=%s", resp.StatusCode, code, message)
	return e
}

// bearerTokenPolicy authorizes each request with a token from the provider. A
// provider error ends the pipeline before anything is sent.
type bearerTokenPolicy struct {
	tokens TokenProvider
}

func (b *bearerTokenPolicy) Do(req *policy.Request) (*http.Response, error) {
	cred, err := b.tokens.GetToken(req.Raw().Context())
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Authorization", "Bearer "+cred.Token)
	return req.Next()
}
