package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const providerGRPC = "grpc"

// Generator sidecar service methods. Requests and responses are
// google.protobuf.Struct messages.
const (
	GeneratorService      = "growthdesk.generator.v1.Generator"
	generatorCompleteRPC  = "/" + GeneratorService + "/Complete"
	generatorStreamRPC    = "/" + GeneratorService + "/Stream"
	generatorStreamMethod = "Stream"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCClientConfig holds configuration for the sidecar client.
type GRPCClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCClientConfig returns default configuration.
func DefaultGRPCClientConfig(addr string) GRPCClientConfig {
	return GRPCClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCClient delegates generation to a sidecar service over gRPC.
type GRPCClient struct {
	conn   *grpc.ClientConn
	opts   Options
	logger *slog.Logger
}

// NewGRPCClient connects to the generator sidecar and waits until it is ready.
func NewGRPCClient(cfg GRPCClientConfig, opts Options, logger *slog.Logger, dialOpts ...grpc.DialOption) (*GRPCClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, dialOpts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generator at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generator sidecar", "address", cfg.Address)
	return &GRPCClient{conn: conn, opts: opts, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Name implements Client.
func (c *GRPCClient) Name() string { return providerGRPC }

func (c *GRPCClient) message(req Request) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"model":       c.opts.Model,
		"system":      req.System,
		"prompt":      req.Prompt,
		"json":        req.JSON,
		"temperature": float64(c.opts.temperature(req)),
		"max_tokens":  float64(c.opts.maxTokens(req)),
	})
}

// Complete implements Client.
func (c *GRPCClient) Complete(ctx context.Context, req Request) (string, error) {
	in, err := c.message(req)
	if err != nil {
		return "", fmt.Errorf("build generator request: %w", err)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, generatorCompleteRPC, in, out); err != nil {
		return "", wrapGRPCError(err)
	}
	text := out.GetFields()["text"].GetStringValue()
	if text == "" {
		return "", &Error{Provider: providerGRPC, Err: ErrEmptyResponse}
	}
	return text, nil
}

// Stream implements Client. The sidecar streams text deltas.
func (c *GRPCClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		in, err := c.message(req)
		if err != nil {
			yield("", fmt.Errorf("build generator request: %w", err))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		desc := &grpc.StreamDesc{StreamName: generatorStreamMethod, ServerStreams: true}
		stream, err := c.conn.NewStream(ctx, desc, generatorStreamRPC)
		if err != nil {
			yield("", wrapGRPCError(err))
			return
		}
		if err := stream.SendMsg(in); err != nil {
			yield("", wrapGRPCError(err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield("", wrapGRPCError(err))
			return
		}

		var acc accumulator
		for {
			out := &structpb.Struct{}
			err := stream.RecvMsg(out)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", wrapGRPCError(err))
				return
			}
			delta := out.GetFields()["text"].GetStringValue()
			if delta == "" {
				continue
			}
			if !yield(acc.add(delta), nil) {
				return
			}
		}
	}
}

var grpcHTTPStatus = map[codes.Code]int{
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.Unavailable:       http.StatusServiceUnavailable,
	codes.Internal:          http.StatusInternalServerError,
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.NotFound:          http.StatusNotFound,
}

// wrapGRPCError maps a status error and its RetryInfo detail onto Error.
func wrapGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return wrapError(providerGRPC, err)
	}
	out := &Error{Provider: providerGRPC, HTTPStatus: grpcHTTPStatus[st.Code()], Err: err}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok {
			out.RetryAfter = info.GetRetryDelay().AsDuration()
		}
	}
	return out
}
