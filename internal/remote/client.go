package remote

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/resilience"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// Client configuration defaults
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second
)

// Client is a match.Comparator backed by a remote comparator service.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	onState func(from, to resilience.State)
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the per-call retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithStateHook is called whenever the client's breaker changes state.
func WithStateHook(fn func(from, to resilience.State)) Option {
	return func(c *Client) { c.onState = fn }
}

// Dial connects to the comparator at addr.
func Dial(addr string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "dial comparator").WithMetadata("addr", addr)
	}
	c := NewClient(conn, opts...)
	c.closer = conn.Close
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		breaker: resilience.NewNamed("comparator", resilience.ComparatorConfig()),
		retry:   resilience.ComparatorRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.onState != nil {
		c.breaker.WithHook(c.onState)
	}
	return c
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Compare sends req to the remote comparator. Transport failures are retried
// and trip the breaker; comparator verdicts are never retried.
func (c *Client) Compare(ctx context.Context, req match.CompareRequest) (match.Result, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return match.Result{}, err
	}

	out, err := resilience.ExecuteWithResult(c.breaker, func() (*structpb.Struct, error) {
		var out *structpb.Struct
		err := resilience.Retry(ctx, c.retry, func() error {
			out = &structpb.Struct{}
			return c.conn.Invoke(ctx, compareMethod, in, out)
		})
		return out, err
	})
	switch {
	case errors.Is(err, resilience.ErrOpen), errors.Is(err, resilience.ErrProbing):
		return match.Result{}, apperrors.Wrap(err, apperrors.Unavailable, "comparator unavailable")
	case err != nil:
		return match.Result{}, apperrors.FromGRPCError(err)
	}
	return decodeResult(out), nil
}
