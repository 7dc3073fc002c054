package ipc

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// DefaultTimeout bounds calls made without a context deadline.
const DefaultTimeout = 10 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	pending := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case done := <-pending.Done:
		return decodeError(done.Error)
	}
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartJob asks the daemon to start a job.
func (c *Client) StartJob(ctx context.Context, req StartJobRequest) (*StartJobResponse, error) {
	var resp StartJobResponse
	if err := c.call(ctx, "StartJob", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelJob cancels the active job.
func (c *Client) CancelJob(ctx context.Context) (*CancelJobResponse, error) {
	var resp CancelJobResponse
	if err := c.call(ctx, "CancelJob", CancelJobRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs returns recent jobs.
func (c *Client) ListJobs(ctx context.Context, limit int) (*ListJobsResponse, error) {
	var resp ListJobsResponse
	if err := c.call(ctx, "ListJobs", ListJobsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobDetail returns one job with its items.
func (c *Client) JobDetail(ctx context.Context, id int64) (*JobDetailResponse, error) {
	var resp JobDetailResponse
	if err := c.call(ctx, "JobDetail", JobDetailRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListBooks returns books, optionally filtered by status.
func (c *Client) ListBooks(ctx context.Context, statuses []string) (*ListBooksResponse, error) {
	var resp ListBooksResponse
	if err := c.call(ctx, "ListBooks", ListBooksRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns book counts by status.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.call(ctx, "Stats", StatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Estimate predicts the conversion time of a book.
func (c *Client) Estimate(ctx context.Context, runtimeMinutes int) (*EstimateResponse, error) {
	var resp EstimateResponse
	if err := c.call(ctx, "Estimate", EstimateRequest{RuntimeMinutes: runtimeMinutes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail reads daemon log events after req.Since.
func (c *Client) LogTail(ctx context.Context, req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.call(ctx, "LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon process to shut down.
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	if err := c.call(ctx, "Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
