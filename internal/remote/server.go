package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

type comparatorServer interface {
	compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type server struct {
	cmp match.Comparator
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*comparatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compare", Handler: compareHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pagestitch/comparator",
}

// RegisterComparatorServer serves cmp on s.
func RegisterComparatorServer(s grpc.ServiceRegistrar, cmp match.Comparator) {
	s.RegisterService(&serviceDesc, &server{cmp: cmp})
}

// NewServer returns a gRPC server with tracing that serves cmp.
func NewServer(cmp match.Comparator, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.UnaryInterceptor(trace.UnaryServerInterceptor()))
	s := grpc.NewServer(opts...)
	RegisterComparatorServer(s, cmp)
	return s
}

func (s *server) compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	res, err := s.cmp.Compare(ctx, req)
	if err != nil {
		if _, ok := err.(*apperrors.AppError); ok {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ComparatorFailed, "compare")
	}
	out, err := encodeResult(res)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "encode result")
	}
	return out, nil
}

func compareHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(comparatorServer).compare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: compareMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(comparatorServer).compare(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
