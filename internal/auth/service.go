package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"AgentKit-Chain/pkg/logger"
)

// Service 校验请求携带的令牌。nil 或 disabled 模式的 Service 放行所有请求。
type Service struct {
	mode        Mode
	credentials []credential
	audit       *slog.Logger
}

type credential struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// NewService 构造认证服务。令牌只以摘要形式保存在内存中。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("不支持的认证模式 %q", cfg.Mode)
	}

	if len(cfg.Credentials) == 0 {
		return nil, errors.New("token 模式至少需要一个凭据")
	}
	seen := make(map[[sha256.Size]byte]string, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		token := strings.TrimSpace(c.Token)
		if token == "" {
			return nil, fmt.Errorf("凭据 %q 的令牌为空", c.Name)
		}
		digest := sha256.Sum256([]byte(token))
		if other, ok := seen[digest]; ok {
			return nil, fmt.Errorf("凭据 %q 与 %q 使用了相同的令牌", other, c.Name)
		}
		seen[digest] = c.Name
		svc.credentials = append(svc.credentials, credential{
			digest:  digest,
			subject: newSubject(c.Name, c.Permissions),
		})
	}
	return svc, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled 表示是否需要校验令牌。
func (s *Service) Enabled() bool {
	return s.Mode() != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}
	return s.AuthenticateToken(token)
}

// AuthenticateToken 以常量时间比较令牌摘要。
func (s *Service) AuthenticateToken(token string) (*Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var match *Subject
	for _, c := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], c.digest[:]) == 1 {
			match = c.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return match, nil
}

func bearerToken(authorization string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
