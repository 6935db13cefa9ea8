// Package service exposes the retrieval pipeline as the
// retriever.v1.RetrievalService gRPC service.
//
// Messages are google.protobuf.Struct values, so the service needs no
// generated code: the descriptor below is registered by hand.
package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// RetrievalServiceName is the fully qualified gRPC service name.
	RetrievalServiceName = "retriever.v1.RetrievalService"

	// RetrieveBatchMethod is the full method name of RetrieveBatch.
	RetrieveBatchMethod = "/" + RetrievalServiceName + "/RetrieveBatch"
)

// RetrievalServiceServer is the server API for RetrievalService.
type RetrievalServiceServer interface {
	// RetrieveBatch takes {"queries": [...], "namespace": "..."} and returns
	// {"results": [[chunk, ...], ...]} aligned with the queries.
	RetrieveBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RetrievalServiceClient is the client API for RetrievalService.
type RetrievalServiceClient interface {
	RetrieveBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type retrievalServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRetrievalServiceClient creates a client for RetrievalService.
func NewRetrievalServiceClient(cc grpc.ClientConnInterface) RetrievalServiceClient {
	return &retrievalServiceClient{cc: cc}
}

func (c *retrievalServiceClient) RetrieveBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RetrieveBatchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterRetrievalServiceServer registers srv with s.
func RegisterRetrievalServiceServer(s grpc.ServiceRegistrar, srv RetrievalServiceServer) {
	s.RegisterService(&RetrievalServiceDesc, srv)
}

func retrieveBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RetrievalServiceServer).RetrieveBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RetrieveBatchMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RetrievalServiceServer).RetrieveBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RetrievalServiceDesc is the grpc.ServiceDesc for RetrievalService.
var RetrievalServiceDesc = grpc.ServiceDesc{
	ServiceName: RetrievalServiceName,
	HandlerType: (*RetrievalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RetrieveBatch",
			Handler:    retrieveBatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "retriever/v1/retrieval.proto",
}

var _ RetrievalServiceServer = (*RetrievalService)(nil)
