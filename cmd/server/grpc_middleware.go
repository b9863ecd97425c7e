package main

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"

	"cartsaga/internal/checkout"
	"cartsaga/internal/observability"
)

type rateLimiter interface {
	Wait(ctx context.Context) error
}

type rateLimitedServerStream struct {
	grpc.ServerStream
	limiter rateLimiter
}

func (s *rateLimitedServerStream) RecvMsg(m any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(s.Context()); err != nil {
			return err
		}
	}
	return s.ServerStream.RecvMsg(m)
}

func rateLimitUnaryInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger logr.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		tracked := shouldTrackMethod(info.FullMethod)
		span := &observability.CallSpan{}
		start := time.Now()
		if tracked {
			span = metrics.Start(info.FullMethod)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				span.End(err)
				return nil, err
			}
		}
		resp, err := handler(ctx, req)
		span.End(err)
		if err != nil && tracked {
			logger.Error(err, "grpc unary call failed", "method", info.FullMethod, "elapsed", time.Since(start))
		}
		return resp, err
	}
}

func rateLimitStreamInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger logr.Logger) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		tracked := shouldTrackMethod(info.FullMethod)
		span := &observability.CallSpan{}
		start := time.Now()
		if tracked {
			span = metrics.Start(info.FullMethod)
		}
		if limiter != nil {
			stream = &rateLimitedServerStream{ServerStream: stream, limiter: limiter}
		}
		err := handler(srv, stream)
		span.End(err)
		if err != nil && tracked {
			logger.Error(err, "grpc stream failed", "method", info.FullMethod, "elapsed", time.Since(start))
		}
		return err
	}
}

// Reflection and health probes stay out of the per-method stats.
func shouldTrackMethod(method string) bool {
	return method != "" &&
		!strings.HasPrefix(method, "/grpc.reflection.") &&
		!strings.HasPrefix(method, "/grpc.health.")
}

// newIngressLimiter returns nil when limiting is disabled.
func newIngressLimiter(interval time.Duration, burst int, metrics *observability.Metrics) *checkout.RateLimiter {
	if interval <= 0 || burst <= 0 {
		return nil
	}
	return checkout.NewRateLimiter(interval, burst).OnWait(metrics.AddRateLimitWait)
}
