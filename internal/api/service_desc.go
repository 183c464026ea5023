package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fleetsim.v1.FleetSimulator"

// Method names exposed by the FleetSimulator service.
const (
	MethodInjectIncident        = "InjectIncident"
	MethodCancelIncident        = "CancelIncident"
	MethodListIncidents         = "ListIncidents"
	MethodGetApplicationHealth  = "GetApplicationHealth"
	MethodGetFleetHealth        = "GetFleetHealth"
	MethodGetHistoricalTrend    = "GetHistoricalTrend"
	MethodGetEventTimeline      = "GetEventTimeline"
	MethodExportHistory         = "ExportHistory"
	MethodAnalyzeRootCause      = "AnalyzeRootCause"
	MethodRecordDeployment      = "RecordDeployment"
	MethodRegisterDiscoveryRule = "RegisterDiscoveryRule"
	MethodWatchTicks            = "WatchTicks"
)

// FullMethod returns the wire path for a method, e.g. /fleetsim.v1.FleetSimulator/InjectIncident.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// FleetSimulatorServer is the server API for the FleetSimulator service.
// Requests and responses are JSON-shaped structpb.Struct documents.
type FleetSimulatorServer interface {
	InjectIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetApplicationHealth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFleetHealth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistoricalTrend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEventTimeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeRootCause(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordDeployment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterDiscoveryRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchTicks(*structpb.Struct, TickStream) error
}

// TickStream is the server side of a WatchTicks call.
type TickStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type tickStream struct {
	grpc.ServerStream
}

func (s *tickStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

type unaryCall func(FleetSimulatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FleetSimulatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FleetSimulatorServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchTicksHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FleetSimulatorServer).WatchTicks(in, &tickStream{stream})
}

// ServiceDesc describes the FleetSimulator service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FleetSimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodInjectIncident, FleetSimulatorServer.InjectIncident),
		unaryHandler(MethodCancelIncident, FleetSimulatorServer.CancelIncident),
		unaryHandler(MethodListIncidents, FleetSimulatorServer.ListIncidents),
		unaryHandler(MethodGetApplicationHealth, FleetSimulatorServer.GetApplicationHealth),
		unaryHandler(MethodGetFleetHealth, FleetSimulatorServer.GetFleetHealth),
		unaryHandler(MethodGetHistoricalTrend, FleetSimulatorServer.GetHistoricalTrend),
		unaryHandler(MethodGetEventTimeline, FleetSimulatorServer.GetEventTimeline),
		unaryHandler(MethodExportHistory, FleetSimulatorServer.ExportHistory),
		unaryHandler(MethodAnalyzeRootCause, FleetSimulatorServer.AnalyzeRootCause),
		unaryHandler(MethodRecordDeployment, FleetSimulatorServer.RecordDeployment),
		unaryHandler(MethodRegisterDiscoveryRule, FleetSimulatorServer.RegisterDiscoveryRule),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchTicks,
			Handler:       watchTicksHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fleetsim/v1/fleetsim.proto",
}

// RegisterFleetSimulatorServer attaches srv to a gRPC service registrar.
func RegisterFleetSimulatorServer(s grpc.ServiceRegistrar, srv FleetSimulatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}
