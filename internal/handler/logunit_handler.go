package handler

import (
	"context"
	stderrors "errors"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/service"
	pb "github.com/devrev/pairdb/logunit/pkg/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LogUnitHandler implements the gRPC log unit service
type LogUnitHandler struct {
	logUnit *service.LogUnitService
	logger  *zap.Logger
	pb.UnimplementedLogUnitServer
}

// NewLogUnitHandler creates a new log unit handler
func NewLogUnitHandler(logUnit *service.LogUnitService, logger *zap.Logger) *LogUnitHandler {
	return &LogUnitHandler{
		logUnit: logUnit,
		logger:  logger,
	}
}

// Write handles write requests. A rejected overwrite is reported in the
// response status, not as an RPC error.
func (h *LogUnitHandler) Write(ctx context.Context, req *pb.WriteRequest) (*pb.WriteResponse, error) {
	entry, err := req.Entry.ToEntry()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid entry: %v", err)
	}

	writeStatus, err := h.logUnit.Write(ctx, entry)
	if err != nil {
		h.logFailure("Write failed", err, zap.Uint64("address", entry.Address))
		return nil, toStatusError(err)
	}

	return &pb.WriteResponse{Status: pb.FromWriteStatus(writeStatus)}, nil
}

// Read handles read requests
func (h *LogUnitHandler) Read(ctx context.Context, req *pb.ReadRequest) (*pb.ReadResponse, error) {
	result, err := h.logUnit.Read(ctx, req.Address)
	if err != nil {
		h.logFailure("Read failed", err, zap.Uint64("address", req.Address))
		return nil, toStatusError(err)
	}
	return pb.FromReadResult(result), nil
}

// ReadRange handles batched reads
func (h *LogUnitHandler) ReadRange(ctx context.Context, req *pb.ReadRangeRequest) (*pb.ReadRangeResponse, error) {
	results, err := h.logUnit.ReadRange(ctx, req.Addresses)
	if err != nil {
		h.logFailure("ReadRange failed", err, zap.Int("addresses", len(req.Addresses)))
		return nil, toStatusError(err)
	}

	resp := &pb.ReadRangeResponse{Results: make([]*pb.ReadResponse, 0, len(results))}
	for _, r := range results {
		resp.Results = append(resp.Results, pb.FromReadResult(r))
	}
	return resp, nil
}

// Trim handles trim requests
func (h *LogUnitHandler) Trim(ctx context.Context, req *pb.TrimRequest) (*pb.TrimResponse, error) {
	if err := h.logUnit.Trim(ctx, req.Address); err != nil {
		h.logFailure("Trim failed", err, zap.Uint64("address", req.Address))
		return nil, toStatusError(err)
	}
	return &pb.TrimResponse{}, nil
}

func (h *LogUnitHandler) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.GetCode(err) == errors.ErrCodeInvalidArgument {
		h.logger.Warn(msg, fields...)
		return
	}
	h.logger.Error(msg, fields...)
}

func toStatusError(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	var se *errors.StorageError
	if stderrors.As(err, &se) {
		return se.ToGRPCStatus().Err()
	}
	return status.Error(codes.Internal, err.Error())
}
