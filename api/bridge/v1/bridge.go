// Package bridgev1 holds the gRPC service descriptor and client for lmsbridge.v1.BridgeService
// (see bridge.proto). Messages are google.protobuf.Struct, so no generated message types are needed.
package bridgev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "lmsbridge.v1.BridgeService"

// Method names.
const (
	MethodSyncCategories  = "SyncCategories"
	MethodSyncCourses     = "SyncCourses"
	MethodFullSync        = "FullSync"
	MethodTestConnection  = "TestConnection"
	MethodSiteInfo        = "SiteInfo"
	MethodProvision       = "Provision"
	MethodMintSSOURL      = "MintSSOURL"
	MethodCourseAccessURL = "CourseAccessURL"
	MethodListAuditLogs   = "ListAuditLogs"
)

// FullMethod returns the gRPC full method name, e.g. /lmsbridge.v1.BridgeService/FullSync.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// BridgeServiceServer is the server API for BridgeService.
type BridgeServiceServer interface {
	SyncCategories(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncCourses(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FullSync(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TestConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SiteInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Provision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MintSSOURL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CourseAccessURL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAuditLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(BridgeServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(BridgeServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(BridgeServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// BridgeService_ServiceDesc is the grpc.ServiceDesc for BridgeService.
var BridgeService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSyncCategories, BridgeServiceServer.SyncCategories),
		unary(MethodSyncCourses, BridgeServiceServer.SyncCourses),
		unary(MethodFullSync, BridgeServiceServer.FullSync),
		unary(MethodTestConnection, BridgeServiceServer.TestConnection),
		unary(MethodSiteInfo, BridgeServiceServer.SiteInfo),
		unary(MethodProvision, BridgeServiceServer.Provision),
		unary(MethodMintSSOURL, BridgeServiceServer.MintSSOURL),
		unary(MethodCourseAccessURL, BridgeServiceServer.CourseAccessURL),
		unary(MethodListAuditLogs, BridgeServiceServer.ListAuditLogs),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bridge/v1/bridge.proto",
}

// RegisterBridgeServiceServer registers srv with s.
func RegisterBridgeServiceServer(s grpc.ServiceRegistrar, srv BridgeServiceServer) {
	s.RegisterService(&BridgeService_ServiceDesc, srv)
}

// BridgeServiceClient calls BridgeService methods by name.
type BridgeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBridgeServiceClient returns a client over cc.
func NewBridgeServiceClient(cc grpc.ClientConnInterface) *BridgeServiceClient {
	return &BridgeServiceClient{cc: cc}
}

// Call invokes method with in. A nil in sends an empty Struct.
func (c *BridgeServiceClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
