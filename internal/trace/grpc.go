// Package trace - gRPC interceptors for trace propagation.
package trace

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientInterceptor injects trace context into outgoing gRPC calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = injectMetadata(ctx)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerInterceptor continues the caller's trace, or starts one, and logs
// failed calls.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = WithContext(ctx, extractMetadata(ctx))
		resp, err := handler(ctx, req)
		if err != nil {
			Logger(ctx).Warn("grpc call failed", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}

// injectMetadata adds trace context to outgoing gRPC metadata.
func injectMetadata(ctx context.Context) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
		ctx = WithContext(ctx, tc)
	}

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}

	for k, v := range tc.ToMap() {
		md.Set(k, v)
	}
	md.Set(TraceparentKey, tc.Traceparent())

	return metadata.NewOutgoingContext(ctx, md)
}

// extractMetadata builds a child of the caller's span from incoming metadata.
func extractMetadata(ctx context.Context) Context {
	md, _ := metadata.FromIncomingContext(ctx)
	m := make(map[string]string, 3)
	for _, key := range []string{TraceIDKey, SpanIDKey, TraceparentKey} {
		if v := md.Get(key); len(v) > 0 {
			m[key] = v[0]
		}
	}
	return FromMap(m)
}
