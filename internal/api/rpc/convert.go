package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/SensorIntegration/internal/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts any JSON-serialisable value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("value is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes a protobuf Struct into target through its JSON form.
func fromStruct(s *structpb.Struct, target any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func statusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, types.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, types.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, types.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, types.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
