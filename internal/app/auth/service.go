package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/infra/metrics"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
	"github.com/astro-web3/spacecat-auth/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

// Service runs the configured handlers against a request.
type Service interface {
	Authenticate(ctx context.Context, r *http.Request) (*auth.AuthInfo, error)
	Handlers() []string
}

// Recorder receives one observation per handler attempt.
type Recorder interface {
	ObserveAuth(handler, outcome string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveAuth(string, string, time.Duration) {}

type Option func(*service)

func WithRecorder(r Recorder) Option {
	return func(s *service) {
		if r != nil {
			s.recorder = r
		}
	}
}

type service struct {
	handlers []auth.Handler
	recorder Recorder
	now      func() time.Time
}

func NewService(handlers []auth.Handler, opts ...Option) Service {
	s := &service{
		handlers: handlers,
		recorder: noopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Handlers() []string {
	names := make([]string, 0, len(s.handlers))
	for _, h := range s.handlers {
		names = append(names, h.Name())
	}
	return names
}

// Authenticate tries handlers in order. The first authenticated result wins;
// the first rejection stops the chain and is returned with its *auth.RejectedError.
// When no handler applies the error is auth.ErrUnauthenticated.
func (s *service) Authenticate(ctx context.Context, r *http.Request) (*auth.AuthInfo, error) {
	ctx, span := tracer.Start(ctx, "app.auth.Authenticate")
	defer span.End()

	for _, h := range s.handlers {
		start := s.now()
		info, err := h.CheckAuth(ctx, r)
		elapsed := s.now().Sub(start)

		switch {
		case err == nil && info.IsAuthenticated():
			s.recorder.ObserveAuth(h.Name(), metrics.OutcomeAuthenticated, elapsed)
			span.SetAttributes(
				attribute.Bool("auth.authenticated", true),
				attribute.String("auth.handler", h.Name()),
				attribute.String("auth.type", info.Type()),
			)
			return info, nil

		case errors.Is(err, auth.ErrRejected):
			s.recorder.ObserveAuth(h.Name(), metrics.OutcomeRejected, elapsed)
			span.SetAttributes(
				attribute.Bool("auth.authenticated", false),
				attribute.String("auth.handler", h.Name()),
				attribute.String("auth.reason", info.Reason()),
			)
			logger.InfoContext(ctx, "credential rejected",
				slog.String("handler", h.Name()),
				slog.String("reason", info.Reason()),
			)
			return info, err

		case err == nil, errors.Is(err, auth.ErrNotApplicable):
			s.recorder.ObserveAuth(h.Name(), metrics.OutcomeNotApplicable, elapsed)
			if err != nil {
				logger.DebugContext(ctx, "handler not applicable",
					slog.String("handler", h.Name()),
					slog.String("cause", err.Error()),
				)
			}

		default:
			s.recorder.ObserveAuth(h.Name(), metrics.OutcomeNotApplicable, elapsed)
			span.RecordError(err)
			logger.ErrorContext(ctx, "handler failed",
				slog.String("handler", h.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	span.SetAttributes(attribute.Bool("auth.authenticated", false))
	return nil, auth.ErrUnauthenticated
}
