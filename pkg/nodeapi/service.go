package nodeapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service the agent dials
const ServiceName = "plfm.node.v1.NodeAgent"

// NodeAgentServer is the control plane side of the node API
type NodeAgentServer interface {
	Enroll(context.Context, *EnrollRequest) (*EnrollResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	GetPlan(context.Context, *PlanRequest) (*PlanResponse, error)
	ReportInstanceStatus(context.Context, *InstanceStatusRequest) (*Ack, error)
	GetSecretMaterial(context.Context, *SecretMaterialRequest) (*SecretMaterialResponse, error)
	SendWorkloadLogs(NodeAgent_SendWorkloadLogsServer) error
}

// RegisterNodeAgentServer wires a server implementation into grpc
func RegisterNodeAgentServer(s *grpc.Server, srv NodeAgentServer) {
	s.RegisterService(&nodeAgentServiceDesc, srv)
}

// NodeAgent_SendWorkloadLogsServer is the server view of the log stream
type NodeAgent_SendWorkloadLogsServer interface {
	SendAndClose(*LogAck) error
	Recv() (*LogBatch, error)
	grpc.ServerStream
}

type nodeAgentSendWorkloadLogsServer struct {
	grpc.ServerStream
}

func (x *nodeAgentSendWorkloadLogsServer) SendAndClose(m *LogAck) error {
	return x.ServerStream.SendMsg(m)
}

func (x *nodeAgentSendWorkloadLogsServer) Recv() (*LogBatch, error) {
	m := new(LogBatch)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func enrollHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EnrollRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).Enroll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Enroll"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgentServer).Enroll(ctx, req.(*EnrollRequest))
	})
}

func heartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Heartbeat"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgentServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	})
}

func getPlanHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PlanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).GetPlan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetPlan"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgentServer).GetPlan(ctx, req.(*PlanRequest))
	})
}

func reportInstanceStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InstanceStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).ReportInstanceStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ReportInstanceStatus"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgentServer).ReportInstanceStatus(ctx, req.(*InstanceStatusRequest))
	})
}

func getSecretMaterialHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SecretMaterialRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).GetSecretMaterial(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetSecretMaterial"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgentServer).GetSecretMaterial(ctx, req.(*SecretMaterialRequest))
	})
}

func sendWorkloadLogsHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(NodeAgentServer).SendWorkloadLogs(&nodeAgentSendWorkloadLogsServer{stream})
}

var nodeAgentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enroll", Handler: enrollHandler},
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
		{MethodName: "GetPlan", Handler: getPlanHandler},
		{MethodName: "ReportInstanceStatus", Handler: reportInstanceStatusHandler},
		{MethodName: "GetSecretMaterial", Handler: getSecretMaterialHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SendWorkloadLogs", Handler: sendWorkloadLogsHandler, ClientStreams: true},
	},
}
