package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"bindery/internal/daemon"
	"bindery/internal/logging"
	"bindery/internal/services"
)

// maxLogWait caps how long a follow LogTail call blocks.
const maxLogWait = 30 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connected clients
// finish their in-flight call before their connection is dropped.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) StartJob(req StartJobRequest, resp *StartJobResponse) error {
	result, err := s.daemon.StartJob(s.ctx, req)
	if err != nil {
		return encodeError(err)
	}
	*resp = result
	s.logger.Info("job start requested via IPC",
		logging.String(logging.FieldEventType, "ipc_job_start"),
		logging.String("job_type", req.JobType),
		logging.String("message", result.Message),
	)
	return nil
}

func (s *service) CancelJob(_ CancelJobRequest, resp *CancelJobResponse) error {
	message, err := s.daemon.CancelJob()
	if err != nil {
		return encodeError(err)
	}
	resp.Message = message
	return nil
}

func (s *service) ListJobs(req ListJobsRequest, resp *ListJobsResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	list, err := s.daemon.ListJobs(s.ctx, limit)
	if err != nil {
		return encodeError(err)
	}
	resp.Jobs = list
	return nil
}

func (s *service) JobDetail(req JobDetailRequest, resp *JobDetailResponse) error {
	if req.ID <= 0 {
		return encodeError(services.Detailed(services.ErrValidation, "invalid job id %d", req.ID))
	}
	detail, err := s.daemon.JobDetail(s.ctx, req.ID)
	if err != nil {
		return encodeError(err)
	}
	resp.JobDetail = *detail
	return nil
}

func (s *service) ListBooks(req ListBooksRequest, resp *ListBooksResponse) error {
	books, err := s.daemon.ListBooks(s.ctx, req.Statuses)
	if err != nil {
		return encodeError(err)
	}
	resp.Books = books
	return nil
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	stats, err := s.daemon.Stats(s.ctx)
	if err != nil {
		return encodeError(err)
	}
	resp.Books = stats
	return nil
}

func (s *service) Estimate(req EstimateRequest, resp *EstimateResponse) error {
	result, err := s.daemon.Estimate(req.RuntimeMinutes)
	if err != nil {
		return encodeError(err)
	}
	resp.EstimateResult = result
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	resp.Events = []logging.LogEvent{}
	hub := s.daemon.LogStream()
	if hub == nil {
		return nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	ctx := s.ctx
	if req.Follow {
		wait := min(time.Duration(req.WaitMillis)*time.Millisecond, maxLogWait)
		if wait <= 0 {
			wait = time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	events, next, err := hub.Fetch(ctx, req.Since, limit, req.Follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return encodeError(err)
	}
	for _, evt := range events {
		if req.JobID != 0 && evt.JobID != req.JobID {
			continue
		}
		if req.ASIN != "" && !strings.EqualFold(evt.ASIN, req.ASIN) {
			continue
		}
		resp.Events = append(resp.Events, evt)
	}
	resp.Next = next
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon shutdown requested via IPC", logging.String(logging.FieldEventType, "ipc_stop"))
	s.daemon.RequestShutdown()
	resp.Stopping = true
	return nil
}
