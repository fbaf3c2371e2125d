package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jainkunal/giza-agents/pkg/logger"
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode  Mode
	store Store
	audit *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		store: store,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
		if store == nil {
			return nil, errors.New("apikey 模式需要配置密钥存储")
		}
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Seeds) > 0 {
		if writer, ok := store.(SeedWriter); ok {
			for _, seed := range cfg.Seeds {
				if err := writer.ApplySeed(ctx, seed); err != nil {
					return nil, fmt.Errorf("导入预置密钥 %s 失败: %w", seed.Name, err)
				}
			}
		}
	}
	return svc, nil
}

// Enabled 报告服务是否会拦截请求。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// Authenticate 校验请求携带的 API 密钥并返回对应的调用方。
// 密钥既可以放在 Authorization: Bearer 头中，也可以放在 X-API-Key 头中。
func (s *Service) Authenticate(ctx context.Context, authorization, apiKeyHeader string) (*Principal, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}

	key := strings.TrimSpace(apiKeyHeader)
	if key == "" {
		parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			key = strings.TrimSpace(parts[1])
		}
	}
	if key == "" {
		return nil, ErrMissingKey
	}

	principal, err := s.store.FindKey(ctx, key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if principal.Disabled {
		return nil, ErrKeyRevoked
	}
	return principal, nil
}
