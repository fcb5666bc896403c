package rpc

import (
	"context"

	"github.com/KevinKickass/SensorIntegration/internal/readings"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	SensorServiceName        = "sensorintegration.v1.SensorService"
	sensorIngestMethod       = "/" + SensorServiceName + "/Ingest"
	sensorStreamAlertsMethod = "/" + SensorServiceName + "/StreamAlerts"
)

type SensorServer interface {
	Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamAlerts(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

var SensorServiceDesc = grpc.ServiceDesc{
	ServiceName: SensorServiceName,
	HandlerType: (*SensorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ingest", Handler: sensorIngestHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAlerts", Handler: sensorStreamAlertsHandler, ServerStreams: true},
	},
	Metadata: "sensorintegration/v1/sensor.proto",
}

func sensorIngestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorServer).Ingest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sensorIngestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SensorServer).Ingest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func sensorStreamAlertsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SensorServer).StreamAlerts(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

type ReadingIngester interface {
	Create(ctx context.Context, in readings.NewReading, source string) (*readings.Accepted, error)
	CreateBatch(ctx context.Context, in []readings.NewReading, source string) ([]*readings.Accepted, error)
}

type AlertSource interface {
	Subscribe(machineID uuid.UUID) <-chan *storage.Alert
	Unsubscribe(machineID uuid.UUID, ch <-chan *storage.Alert)
}

type SensorService struct {
	ingester ReadingIngester
	alerts   AlertSource
	logger   *zap.Logger
}

func NewSensorService(ingester ReadingIngester, alerts AlertSource, logger *zap.Logger) *SensorService {
	return &SensorService{ingester: ingester, alerts: alerts, logger: logger}
}

type ingestRequest struct {
	readings.NewReading
	Readings []readings.NewReading `json:"readings"`
}

// Ingest accepts one reading, or a batch under "readings".
func (s *SensorService) Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in ingestRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}

	if len(in.Readings) > 0 {
		accepted, err := s.ingester.CreateBatch(ctx, in.Readings, readings.SourceGRPC)
		if err != nil {
			return nil, statusError(err)
		}
		breaches := 0
		for _, a := range accepted {
			if a.OutOfThreshold {
				breaches++
			}
		}
		return toStruct(map[string]any{
			"readings":         accepted,
			"out_of_threshold": breaches,
		})
	}

	if in.SensorID == 0 {
		return nil, status.Error(codes.InvalidArgument, "sensor_id is required")
	}
	accepted, err := s.ingester.Create(ctx, in.NewReading, readings.SourceGRPC)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(accepted)
}

// StreamAlerts pushes alerts as they are raised, optionally for one machine.
func (s *SensorService) StreamAlerts(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var filter struct {
		MachineID string `json:"machine_id"`
	}
	if err := fromStruct(req, &filter); err != nil {
		return err
	}
	machineID := uuid.Nil
	if filter.MachineID != "" {
		id, err := uuid.Parse(filter.MachineID)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid machine_id: %v", err)
		}
		machineID = id
	}

	ch := s.alerts.Subscribe(machineID)
	defer s.alerts.Unsubscribe(machineID, ch)

	for {
		select {
		case alert, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(alert)
			if err != nil {
				s.logger.Error("Failed to encode alert", zap.Int64("alert_id", alert.ID), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}
