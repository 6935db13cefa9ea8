package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newManager() *JWTManager {
	return NewJWTManager(DefaultJWTConfig("test-secret"))
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m := newManager()

	token, err := m.GenerateToken("search-frontend")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "search-frontend", claims.Subject)
	assert.Equal(t, "retriever", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTManager_Invalid(t *testing.T) {
	m := newManager()

	t.Run("Expired", func(t *testing.T) {
		token, err := m.GenerateTokenWithExpiry("svc", -time.Minute)
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		other := NewJWTManager(DefaultJWTConfig("other-secret"))
		token, err := other.GenerateToken("svc")
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := m.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Empty client", func(t *testing.T) {
		_, err := m.GenerateToken("")
		assert.Error(t, err)
	})
}

func TestJWTManager_RefreshExpired(t *testing.T) {
	m := newManager()
	expired, err := m.GenerateTokenWithExpiry("svc", -time.Minute)
	require.NoError(t, err)

	fresh, err := m.RefreshToken(expired)
	require.NoError(t, err)

	claims, err := m.ValidateToken(fresh)
	require.NoError(t, err)
	assert.Equal(t, "svc", claims.Subject)

	other := NewJWTManager(DefaultJWTConfig("other-secret"))
	forged, err := other.GenerateTokenWithExpiry("svc", -time.Minute)
	require.NoError(t, err)
	_, err = m.RefreshToken(forged)
	assert.Error(t, err)
}

func TestAuthenticator_Authenticate(t *testing.T) {
	m := newManager()
	token, err := m.GenerateToken("svc")
	require.NoError(t, err)

	tests := []struct {
		name    string
		auth    *Authenticator
		apiKey  string
		bearer  string
		subject string
		wantErr bool
	}{
		{"Disabled allows all", NewAuthenticator("", nil), "", "", "anonymous", false},
		{"Valid API key", NewAuthenticator("k3y", m), "k3y", "", "api-key", false},
		{"Wrong API key", NewAuthenticator("k3y", m), "nope", "", "", true},
		{"Valid token", NewAuthenticator("k3y", m), "", token, "svc", false},
		{"Bad token", NewAuthenticator("k3y", m), "", "abc", "", true},
		{"Token without JWT configured", NewAuthenticator("k3y", nil), "", token, "", true},
		{"Missing credentials", NewAuthenticator("k3y", m), "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.auth.Authenticate(tt.apiKey, tt.bearer)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, p.Subject)
		})
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	a := NewAuthenticator("k3y", nil)

	var subject string
	handler := a.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		subject = p.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/retrieve", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/retrieve", nil)
	req.Header.Set("X-API-Key", "k3y")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "api-key", subject)
}

func TestAuthenticator_UnaryInterceptor(t *testing.T) {
	m := newManager()
	token, err := m.GenerateToken("svc")
	require.NoError(t, err)

	interceptor := NewAuthenticator("", m).UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/retriever.v1.RetrievalService/RetrieveBatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		p, ok := PrincipalFromContext(ctx)
		require.True(t, ok)
		return p.Subject, nil
	}

	_, err = interceptor(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	resp, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "svc", resp)

	skipped := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, err = interceptor(context.Background(), nil, skipped, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken(""))
}
