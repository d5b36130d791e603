package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"hamsterball/coordinator/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret on every stream.
const SharedSecretMetadataKey = "x-coordinator-shared-secret"

// ServerOptions returns the options every session server runs with. An empty secret
// leaves the stream unauthenticated.
func ServerOptions(secret string, logger *logging.Logger) []grpc.ServerOption {
	if logger == nil {
		logger = logging.L()
	}
	opts := []grpc.ServerOption{grpc.ForceServerCodec(Codec{})}
	if strings.TrimSpace(secret) == "" {
		logger.Warn("gRPC shared secret not configured, session stream is unauthenticated")
		return opts
	}
	logger.Info("gRPC shared-secret authentication enabled")
	return append(opts, grpc.ChainStreamInterceptor(NewSharedSecretStreamInterceptor(secret)))
}

// NewSharedSecretStreamInterceptor rejects streams that do not present secret.
func NewSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if normalized == "" {
			return status.Error(codes.Unauthenticated, "shared secret not configured")
		}
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractSharedSecret(md)
		if candidate == "" {
			return status.Error(codes.Unauthenticated, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(normalized)) != 1 {
			return status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(srv, ss)
	}
}

// WithSharedSecret attaches secret to the outgoing context of a client stream.
func WithSharedSecret(ctx context.Context, secret string) context.Context {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, SharedSecretMetadataKey, trimmed)
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}
