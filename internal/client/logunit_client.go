package client

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/pairdb/logunit/internal/model"
	pb "github.com/devrev/pairdb/logunit/pkg/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// LogUnitClient handles communication with a remote log unit
type LogUnitClient struct {
	addr   string
	conn   *grpc.ClientConn
	client pb.LogUnitClient
	logger *zap.Logger
}

// NewLogUnitClient creates a client for the log unit at addr (host:port)
func NewLogUnitClient(addr string, logger *zap.Logger, opts ...grpc.DialOption) (*LogUnitClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to log unit at %s: %w", addr, err)
	}

	return &LogUnitClient{
		addr:   addr,
		conn:   conn,
		client: pb.NewLogUnitClient(conn),
		logger: logger,
	}, nil
}

// Write sends an entry. A rejected overwrite is returned as
// model.WriteErrorOverwrite with a nil error.
func (c *LogUnitClient) Write(ctx context.Context, entry *model.LogEntry) (model.WriteStatus, error) {
	resp, err := c.client.Write(ctx, &pb.WriteRequest{Entry: pb.FromEntry(entry)})
	if err != nil {
		return model.WriteOK, fmt.Errorf("write at %d failed: %w", entry.Address, err)
	}
	return resp.Status.ToWriteStatus(), nil
}

// Read resolves one address
func (c *LogUnitClient) Read(ctx context.Context, address uint64) (*model.ReadResult, error) {
	resp, err := c.client.Read(ctx, &pb.ReadRequest{Address: address})
	if err != nil {
		return nil, fmt.Errorf("read at %d failed: %w", address, err)
	}
	return resp.ToReadResult()
}

// ReadRange resolves several addresses. Results are in request order.
func (c *LogUnitClient) ReadRange(ctx context.Context, addresses []uint64) ([]*model.ReadResult, error) {
	resp, err := c.client.ReadRange(ctx, &pb.ReadRangeRequest{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("read range of %d addresses failed: %w", len(addresses), err)
	}
	if len(resp.Results) != len(addresses) {
		return nil, fmt.Errorf("read range returned %d results for %d addresses", len(resp.Results), len(addresses))
	}

	out := make([]*model.ReadResult, len(resp.Results))
	for i, r := range resp.Results {
		result, err := r.ToReadResult()
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		out[i] = result
	}
	return out, nil
}

// Trim trims one address
func (c *LogUnitClient) Trim(ctx context.Context, address uint64) error {
	if _, err := c.client.Trim(ctx, &pb.TrimRequest{Address: address}); err != nil {
		return fmt.Errorf("trim at %d failed: %w", address, err)
	}
	return nil
}

// WriteWithRetry retries a write while the log unit reports itself
// unavailable, e.g. while it is still recovering. Any other outcome,
// including an overwrite rejection, is returned immediately.
func (c *LogUnitClient) WriteWithRetry(ctx context.Context, entry *model.LogEntry, maxRetries int, retryInterval time.Duration) (model.WriteStatus, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		writeStatus, err := c.Write(ctx, entry)
		if err == nil || status.Code(err) != codes.Unavailable {
			return writeStatus, err
		}

		lastErr = err
		c.logger.Warn("Log unit unavailable, retrying write",
			zap.String("addr", c.addr),
			zap.Uint64("address", entry.Address),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return model.WriteOK, fmt.Errorf("context cancelled during write: %w", ctx.Err())
			case <-time.After(retryInterval):
			}
		}
	}

	return model.WriteOK, fmt.Errorf("failed to write after %d attempts: %w", maxRetries, lastErr)
}

// Close closes the client connection
func (c *LogUnitClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
