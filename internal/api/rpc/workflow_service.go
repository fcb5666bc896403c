package rpc

import (
	"context"
	"strings"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/engine"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/streaming"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	WorkflowServiceName  = "sensorintegration.v1.WorkflowService"
	workflowGetMethod    = "/" + WorkflowServiceName + "/GetExecution"
	workflowStreamMethod = "/" + WorkflowServiceName + "/StreamExecution"
)

type WorkflowServer interface {
	GetExecution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamExecution(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: WorkflowServiceName,
	HandlerType: (*WorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetExecution", Handler: workflowGetHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamExecution", Handler: workflowStreamHandler, ServerStreams: true},
	},
	Metadata: "sensorintegration/v1/workflow.proto",
}

func workflowGetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowServer).GetExecution(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: workflowGetMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkflowServer).GetExecution(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func workflowStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WorkflowServer).StreamExecution(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

type ExecutionReader interface {
	Status(ctx context.Context, id string) (*engine.ExecutionStatus, error)
}

type WorkflowService struct {
	executions ExecutionReader
	streamer   *streaming.EventStreamer
}

func NewWorkflowService(executions ExecutionReader, streamer *streaming.EventStreamer) *WorkflowService {
	return &WorkflowService{executions: executions, streamer: streamer}
}

func executionID(req *structpb.Struct) (string, error) {
	id := strings.TrimSpace(req.GetFields()["execution_id"].GetStringValue())
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "execution_id is required")
	}
	return id, nil
}

func (s *WorkflowService) GetExecution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := executionID(req)
	if err != nil {
		return nil, err
	}
	exec, err := s.executions.Status(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(exec)
}

// StreamExecution sends the events of one execution until it finishes.
// A finished execution yields a single status message.
func (s *WorkflowService) StreamExecution(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	id, err := executionID(req)
	if err != nil {
		return err
	}

	ch := s.streamer.Subscribe(id)
	defer s.streamer.Unsubscribe(id, ch)

	exec, err := s.executions.Status(stream.Context(), id)
	if err != nil {
		return statusError(err)
	}
	if exec.Status.Terminal() {
		msg, err := toStruct(exec)
		if err != nil {
			return statusError(err)
		}
		return stream.Send(msg)
	}

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(event)
			if err != nil {
				return statusError(err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
			if finalEvent(event) {
				return nil
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func finalEvent(ev *storage.ExecutionEvent) bool {
	st, ok := strings.CutPrefix(ev.EventType, "execution.")
	return ok && storage.ExecutionStatus(st).Terminal()
}
