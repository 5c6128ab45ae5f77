package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"AgentKit-Chain/internal/eventbus"
)

const (
	streamBuffer = 64
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream 把 Agent 总线上的全部事件推送给 websocket 客户端，慢客户端会丢失事件。
func (s *Server) handleStream(c *gin.Context) {
	if !s.ready(c) {
		return
	}

	events := make(chan eventbus.Event, streamBuffer)
	id := s.agent.OnEvent(eventbus.Wildcard, func(_ context.Context, evt eventbus.Event) error {
		select {
		case events <- evt:
		default:
			s.log.Warn("websocket 客户端过慢，丢弃事件", slog.String("event", evt.Type))
		}
		return nil
	})
	defer s.agent.OffEvent(eventbus.Wildcard, id)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket 升级失败", slog.Any("error", err))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case evt := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("websocket 写入失败", slog.Any("error", err))
				return
			}
		}
	}
}
