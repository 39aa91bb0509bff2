package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler runs dependency checks and reports the result over the gRPC
// health protocol and on the HTTP /health endpoint.
type HealthHandler struct {
	service string
	checks  map[string]Check
	server  *health.Server
	logger  zerolog.Logger

	mu     sync.RWMutex
	failed map[string]string
}

// NewHealthHandler creates a health handler for service. Status is
// NOT_SERVING until the first round of checks passes.
func NewHealthHandler(service string, checks map[string]Check, logger zerolog.Logger) *HealthHandler {
	h := &HealthHandler{
		service: service,
		checks:  checks,
		server:  health.NewServer(),
		logger:  logger.With().Str("handler", "health").Logger(),
		failed:  map[string]string{"startup": "checks not run yet"},
	}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.server.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Probe runs every check once and publishes the result.
func (h *HealthHandler) Probe(ctx context.Context) {
	failed := make(map[string]string)
	for name, check := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check(cctx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}

	h.mu.Lock()
	changed := !sameKeys(failed, h.failed)
	h.failed = failed
	h.mu.Unlock()

	st := healthpb.HealthCheckResponse_SERVING
	if len(failed) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(h.service, st)

	if changed {
		h.logger.Info().Str("status", st.String()).Interface("failed", failed).Msg("Health status changed")
	}
}

// Run probes every interval until ctx is done.
func (h *HealthHandler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		h.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks the service NOT_SERVING for good.
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
}

// ServeHTTP answers the HTTP health probe.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	failed := make(map[string]string, len(h.failed))
	for k, v := range h.failed {
		failed[k] = v
	}
	h.mu.RUnlock()

	status, body := http.StatusOK, map[string]interface{}{"status": "healthy"}
	if len(failed) > 0 {
		status, body = http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy", "failed": failed}
	}
	if err := writeJSON(w, status, body); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}

// NewGRPCServer builds the gRPC server exposing health and reflection.
func NewGRPCServer(h *HealthHandler, logger zerolog.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoverUnary(logger),
		errorUnary(logger),
	))
	healthpb.RegisterHealthServer(s, h.server)
	reflection.Register(s)
	return s
}

// errorUnary converts service errors into gRPC statuses.
func errorUnary(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		code := grpcCode(err)
		if code == codes.Internal || code == codes.Unavailable {
			logger.Error().Err(err).Str("method", info.FullMethod).Msg("gRPC call failed")
		}
		return nil, status.Error(code, err.Error())
	}
}

func recoverUnary(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Str("method", info.FullMethod).Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func sameKeys(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func grpcCode(err error) codes.Code {
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeIntegrityViolation:
		return codes.InvalidArgument
	case errors.ErrCodeNotFound:
		return codes.NotFound
	case errors.ErrCodeConflict:
		return codes.FailedPrecondition
	case errors.ErrCodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
