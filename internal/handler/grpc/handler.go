// Package grpc exposes the lookup client as the ipgeo.v1.LookupService gRPC
// service. Requests and responses use protobuf well-known types, so the
// service is described by hand instead of through generated code.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "ipgeo.v1.LookupService"

	// MaxBatchSize bounds the number of IPs accepted by LookupBatch.
	MaxBatchSize = 1000
)

// Resolver is the subset of *ipinfo.Client used by the gRPC handler.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (ipinfo.Result, error)
	LookupBatch(ctx context.Context, ips []string) (map[string]ipinfo.Result, error)
}

// LookupServiceServer is the server API of ipgeo.v1.LookupService.
type LookupServiceServer interface {
	Lookup(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	LookupBatch(context.Context, *structpb.ListValue) (*structpb.Struct, error)
}

// ServiceDesc describes ipgeo.v1.LookupService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LookupServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lookup", Handler: lookupHandler},
		{MethodName: "LookupBatch", Handler: lookupBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ipgeo/v1/lookup.proto",
}

// Register adds the lookup service to s.
func Register(s grpc.ServiceRegistrar, srv LookupServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Handler implements the gRPC LookupService.
type Handler struct {
	resolver Resolver
}

var _ LookupServiceServer = (*Handler)(nil)

// NewHandler creates a new gRPC handler with the given Resolver.
func NewHandler(resolver Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Lookup resolves a single IP. A per-IP failure is not an RPC error: the
// response then carries the "ip" and "error" fields.
func (h *Handler) Lookup(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req == nil || req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}

	res, err := h.resolver.Lookup(ctx, req.GetValue())
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(res)
}

// LookupBatch resolves a list of IP strings. The response maps every
// distinct requested IP to its record or error object.
func (h *Handler) LookupBatch(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	if req == nil || len(req.GetValues()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "ips are required")
	}
	if len(req.GetValues()) > MaxBatchSize {
		return nil, status.Errorf(codes.InvalidArgument, "at most %d ips per batch", MaxBatchSize)
	}

	ips := make([]string, 0, len(req.GetValues()))
	for i, v := range req.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok || s.StringValue == "" {
			return nil, status.Errorf(codes.InvalidArgument, "ips[%d] must be a non-empty string", i)
		}
		ips = append(ips, s.StringValue)
	}

	results, err := h.resolver.LookupBatch(ctx, ips)
	if err != nil {
		return nil, statusError(err)
	}

	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(results))}
	for ip, res := range results {
		s, err := toStruct(res)
		if err != nil {
			return nil, err
		}
		out.Fields[ip] = structpb.NewStructValue(s)
	}
	return out, nil
}

func toStruct(res ipinfo.Result) (*structpb.Struct, error) {
	b, err := res.MarshalJSON()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(b); err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return s, nil
}

// statusError maps a whole-call lookup error to a gRPC status.
func statusError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, ipinfo.ErrAuth):
		code = codes.FailedPrecondition
	case errors.Is(err, ipinfo.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, ipinfo.ErrTransport):
		code = codes.Unavailable
	case errors.Is(err, ipinfo.ErrRequest):
		code = codes.Internal
	default:
		code = codes.InvalidArgument
	}
	return status.Error(code, err.Error())
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServiceServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Lookup")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LookupServiceServer).Lookup(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServiceServer).LookupBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("LookupBatch")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LookupServiceServer).LookupBatch(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

// fullMethod returns the RPC path of method, as used by clients in Invoke.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// UnaryLogger returns a server interceptor that logs every RPC with slog.
func UnaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []any{
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch status.Code(err) {
		case codes.OK:
			logger.Info("rpc completed", attrs...)
		case codes.Internal, codes.Unavailable, codes.DeadlineExceeded:
			logger.Error("rpc completed", append(attrs, "error", err)...)
		default:
			logger.Warn("rpc completed", append(attrs, "error", err)...)
		}
		return resp, err
	}
}
