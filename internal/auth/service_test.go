package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T, seeds []Seed) *Service {
	t.Helper()
	store, err := NewMemoryStore(seeds)
	if err != nil {
		t.Fatalf("构建内存密钥存储失败: %v", err)
	}
	svc, err := NewService(context.Background(), Config{Mode: ModeAPIKey}, store)
	if err != nil {
		t.Fatalf("构建认证服务失败: %v", err)
	}
	return svc
}

func TestAuthenticateAcceptsBothHeaders(t *testing.T) {
	svc := newTestService(t, []Seed{{Key: "secret-key", Name: "ops", Scopes: []string{"read"}}})
	ctx := context.Background()

	principal, err := svc.Authenticate(ctx, "", "secret-key")
	if err != nil {
		t.Fatalf("X-API-Key 认证失败: %v", err)
	}
	if principal.Name != "ops" {
		t.Fatalf("调用方名称错误: %s", principal.Name)
	}

	if _, err := svc.Authenticate(ctx, "Bearer secret-key", ""); err != nil {
		t.Fatalf("Bearer 认证失败: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "", ""); err != ErrMissingKey {
		t.Fatalf("缺少密钥应返回 ErrMissingKey, 实际: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "", "wrong"); err != ErrInvalidKey {
		t.Fatalf("错误密钥应返回 ErrInvalidKey, 实际: %v", err)
	}
}

func TestAuthenticateRejectsDisabledKey(t *testing.T) {
	svc := newTestService(t, []Seed{{Key: "revoked", Name: "old", Disabled: true}})

	if _, err := svc.Authenticate(context.Background(), "", "revoked"); err != ErrKeyRevoked {
		t.Fatalf("停用密钥应返回 ErrKeyRevoked, 实际: %v", err)
	}
}

func TestMiddlewareEnforcesScopes(t *testing.T) {
	svc := newTestService(t, []Seed{
		{Key: "reader-key", Name: "reader", Scopes: []string{"read"}},
		{Key: "writer-key", Name: "writer", Scopes: []string{"read", "write"}},
	})

	handler := svc.Middleware(MiddlewareConfig{
		RequiredScopes: map[string][]string{
			http.MethodGet:  {"read"},
			http.MethodPost: {"write"},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFromContext(r.Context())
		if principal == nil {
			t.Error("上下文中缺少调用方信息")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		method string
		key    string
		want   int
	}{
		{"读权限放行读请求", http.MethodGet, "reader-key", http.StatusNoContent},
		{"读权限拒绝写请求", http.MethodPost, "reader-key", http.StatusForbidden},
		{"写权限放行写请求", http.MethodPost, "writer-key", http.StatusNoContent},
		{"缺少密钥被拒绝", http.MethodGet, "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/tasks", nil)
		if tc.key != "" {
			req.Header.Set("X-API-Key", tc.key)
		}
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != tc.want {
			t.Fatalf("%s: 期望状态码 %d, 实际 %d", tc.name, tc.want, recorder.Code)
		}
	}
}

func TestMiddlewareDisabledModePassesThrough(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("构建认证服务失败: %v", err)
	}
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("禁用模式应放行请求, 实际 %d", recorder.Code)
	}
}
