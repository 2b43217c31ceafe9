package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"medwatch-ingest/internal/alert"
	"medwatch-ingest/internal/broadcaster"
	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/repository"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 死链对端的写超时，到期即断开连接而不是占着订阅者排队
const feedWriteTimeout = 10 * time.Second

// AlertReader 报警查询端
type AlertReader interface {
	ListActive(ctx context.Context) ([]models.EmergencyAlert, error)
}

// Handlers HTTP 接口：实时事件流、历史缓冲、报警确认
type Handlers struct {
	feed     *broadcaster.Broadcaster
	detector *alert.Detector
	alerts   AlertReader
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandlers 创建HTTP处理器
func NewHandlers(feed *broadcaster.Broadcaster, detector *alert.Detector, alerts AlertReader, logger *zap.Logger) *Handlers {
	return &Handlers{
		feed:     feed,
		detector: detector,
		alerts:   alerts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 仪表盘由独立前端托管
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Mux 装配路由
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/feed/history", h.handleHistory)
	mux.HandleFunc("/feed/live", h.handleLive)
	mux.HandleFunc("/alerts/active", h.handleActiveAlerts)
	mux.HandleFunc("/alerts/", h.handleAlertAction)
	return mux
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHistory 返回最近历史缓冲快照
func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.feed.History())
}

// handleLive websocket 实时事件流（每个连接一个有界订阅者）
func (h *Handlers) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.feed.Subscribe()
	defer h.feed.Unsubscribe(sub)
	defer conn.Close()

	// 读取协程只用来探测连接关闭
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
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

// handleActiveAlerts 查询全部 ACTIVE 报警
func (h *Handlers) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	alerts, err := h.alerts.ListActive(r.Context())
	if err != nil {
		h.logger.Error("Failed to list active alerts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if alerts == nil {
		alerts = []models.EmergencyAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleAlertAction POST /alerts/{id}/ack 外部确认，驱动 ACTIVE → PROCESSED
func (h *Handlers) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/alerts/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "ack" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	acked, err := h.detector.Acknowledge(r.Context(), parts[0])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found or already processed"})
			return
		}
		h.logger.Error("Failed to acknowledge alert",
			zap.String("alert_id", parts[0]),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, acked)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
