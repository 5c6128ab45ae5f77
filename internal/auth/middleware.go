package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const subjectKey = "auth.subject"

// TokenQueryParam 供无法设置请求头的 WebSocket 客户端传递令牌。
const TokenQueryParam = "access_token"

// Require 返回一个 gin 中间件，要求调用方拥有全部所列权限，并把结果写入审计日志。
func (s *Service) Require(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Enabled() {
			c.Next()
			return
		}

		var (
			subject *Subject
			err     error
		)
		if header := c.GetHeader("Authorization"); header != "" {
			subject, err = s.AuthenticateRequest(header)
		} else {
			subject, err = s.AuthenticateToken(c.Query(TokenQueryParam))
		}
		if err == nil {
			err = subject.Authorize(permissions...)
		}
		if err != nil {
			status := http.StatusUnauthorized
			event := "access_denied"
			if errors.Is(err, ErrPermissionDenied) {
				status = http.StatusForbidden
				event = "permission_denied"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			s.audit.Warn(event,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"status", status,
				"error", err.Error(),
				"subject", subjectName(subject),
			)
			return
		}

		c.Set(subjectKey, subject)
		start := time.Now()
		c.Next()
		s.audit.Info("api_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"subject", subject.Name,
		)
	}
}

// SubjectFrom 返回当前请求通过认证的调用方，未启用认证时为 nil。
func SubjectFrom(c *gin.Context) *Subject {
	if v, ok := c.Get(subjectKey); ok {
		if subject, ok := v.(*Subject); ok {
			return subject
		}
	}
	return nil
}

func subjectName(s *Subject) string {
	if s == nil {
		return ""
	}
	return s.Name
}
