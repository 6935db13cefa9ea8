// Package auth provides API key and JWT authentication for the HTTP and gRPC surfaces.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the header and metadata key for API key authentication
	APIKeyHeader = "x-api-key"

	// AuthorizationHeader carries "Bearer <jwt>" tokens
	AuthorizationHeader = "authorization"

	// principalContextKey is the context key for storing the caller identity
	principalContextKey contextKey = "principal"
)

// ErrUnauthenticated is returned when a request carries no valid credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal identifies an authenticated caller.
type Principal struct {
	// Subject is "api-key" for API key callers, the token subject otherwise.
	Subject string

	// TokenID is the JWT id, empty for API key callers.
	TokenID string
}

// Authenticator validates a static API key or JWTs issued by a JWTManager.
// With neither configured every request is allowed.
type Authenticator struct {
	apiKey      string
	jwt         *JWTManager
	skipMethods map[string]bool
}

// NewAuthenticator creates an authenticator. Either argument may be empty/nil.
func NewAuthenticator(apiKey string, jwtManager *JWTManager) *Authenticator {
	return &Authenticator{
		apiKey: apiKey,
		jwt:    jwtManager,
		skipMethods: map[string]bool{
			// Health check endpoints
			"/grpc.health.v1.Health/Check": true,
			"/grpc.health.v1.Health/Watch": true,
		},
	}
}

// WithSkipMethods adds gRPC methods to skip authentication
func (a *Authenticator) WithSkipMethods(methods ...string) *Authenticator {
	for _, method := range methods {
		a.skipMethods[method] = true
	}
	return a
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a.apiKey != "" || a.jwt != nil
}

// Authenticate checks an API key or a bearer token. Either may be empty.
func (a *Authenticator) Authenticate(apiKey, bearer string) (*Principal, error) {
	if !a.Enabled() {
		return &Principal{Subject: "anonymous"}, nil
	}

	if apiKey != "" && a.apiKey != "" {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.apiKey)) == 1 {
			return &Principal{Subject: "api-key"}, nil
		}
		return nil, errors.Join(ErrUnauthenticated, errors.New("invalid API key"))
	}

	if bearer != "" && a.jwt != nil {
		claims, err := a.jwt.ValidateToken(bearer)
		if err != nil {
			return nil, errors.Join(ErrUnauthenticated, err)
		}
		return &Principal{Subject: claims.Subject, TokenID: claims.ID}, nil
	}

	return nil, errors.Join(ErrUnauthenticated, errors.New("missing credentials"))
}

// Middleware returns chi-compatible HTTP middleware enforcing authentication.
func (a *Authenticator) Middleware(onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(
				strings.TrimSpace(r.Header.Get(APIKeyHeader)),
				bearerToken(r.Header.Get(AuthorizationHeader)),
			)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// UnaryInterceptor returns a gRPC unary interceptor enforcing authentication
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// Skip auth for certain methods
		if a.skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		principal, err := a.authenticateIncoming(ctx)
		if err != nil {
			return nil, err
		}

		return handler(WithPrincipal(ctx, principal), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor enforcing authentication
func (a *Authenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		// Skip auth for certain methods
		if a.skipMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		principal, err := a.authenticateIncoming(ss.Context())
		if err != nil {
			return err
		}

		wrappedStream := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithPrincipal(ss.Context(), principal),
		}

		return handler(srv, wrappedStream)
	}
}

// authenticateIncoming reads credentials from gRPC metadata.
func (a *Authenticator) authenticateIncoming(ctx context.Context) (*Principal, error) {
	var apiKey, bearer string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(APIKeyHeader); len(values) > 0 {
			apiKey = strings.TrimSpace(values[0])
		}
		if values := md.Get(AuthorizationHeader); len(values) > 0 {
			bearer = bearerToken(values[0])
		}
	}

	principal, err := a.Authenticate(apiKey, bearer)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return principal, nil
}

// wrappedServerStream wraps a grpc.ServerStream with a modified context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// bearerToken strips the "Bearer " scheme from an Authorization value.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// WithPrincipal stores the caller identity in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the caller identity from context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}
