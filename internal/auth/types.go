// Package auth 为监控 API 提供基于静态令牌的身份认证与授权。
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// 监控 API 使用的权限。
const (
	PermissionRead    = "agent:read"
	PermissionControl = "agent:control"
	// PermissionAll 授予全部权限。
	PermissionAll = "*"
)

// Mode 表示认证模式。
type Mode string

// 支持的认证模式。
const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// 认证过程中返回的错误。
var (
	ErrMissingToken     = errors.New("缺少 Bearer 令牌")
	ErrInvalidToken     = errors.New("令牌无效")
	ErrPermissionDenied = errors.New("权限不足")
)

// Credential 描述一个静态访问令牌。
type Credential struct {
	Name        string
	Token       string
	Permissions []string
}

// Config 是认证服务的配置。
type Config struct {
	Mode        Mode
	Credentials []Credential
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

func newSubject(name string, permissions []string) *Subject {
	s := &Subject{Name: name}
	s.permissionsSet = make(map[string]struct{}, len(permissions))
	for _, perm := range permissions {
		perm = strings.ToLower(strings.TrimSpace(perm))
		if perm == "" {
			continue
		}
		if _, ok := s.permissionsSet[perm]; ok {
			continue
		}
		s.permissionsSet[perm] = struct{}{}
		s.Permissions = append(s.Permissions, perm)
	}
	return s
}

// HasPermission 判断调用方是否拥有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.permissionsSet[PermissionAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 要求调用方拥有全部所列权限。
func (s *Subject) Authorize(permissions ...string) error {
	for _, perm := range permissions {
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}
