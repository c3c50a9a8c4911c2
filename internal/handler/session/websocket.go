// Package session serves the voice websocket: one controller per
// connection, frames handled strictly in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
	"github.com/zhouzirui/voice-assistant/backend/internal/protocol"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/pipeline"
	sessionservice "github.com/zhouzirui/voice-assistant/backend/internal/service/session"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Catalog is the part of the voice catalog the controller needs.
type Catalog interface {
	Contains(id string) bool
	DefaultPersonality() string
}

// Pipeline runs the audio and text pipelines for one session.
type Pipeline interface {
	RunAudio(ctx context.Context, conv pipeline.Conversation, audio []byte, out pipeline.Emitter) error
	RunText(ctx context.Context, conv pipeline.Conversation, text string, out pipeline.Emitter) error
}

// WebSocketHandler upgrades connections and drives one session per socket.
type WebSocketHandler struct {
	registry *sessionservice.Registry
	catalog  Catalog
	pipeline Pipeline
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(registry *sessionservice.Registry, catalog Catalog, p Pipeline, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		registry: registry,
		catalog:  catalog,
		pipeline: p,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("websocket"),
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.ServeHTTP)
}

// ServeHTTP upgrades the request and serves the session until the client
// leaves or a terminal error occurs.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sess, err := h.registry.Register(r.RemoteAddr, h.catalog.DefaultPersonality())
	if err != nil {
		h.logger.Warn("register session failed", zap.Error(err))
		out := newEmitter(conn)
		_ = out.Send(protocol.Error(clientMessage(err)))
		out.close(websocket.CloseTryAgainLater, "")
		return
	}
	defer h.registry.Unregister(sess.ID())

	logger := h.logger.With(zap.String("session", sess.ID()))
	logger.Info("session opened",
		zap.String("remote", sess.RemoteAddr()),
		zap.String("personality", sess.Personality()),
	)
	defer func() {
		logger.Info("session closed",
			zap.String("remote", sess.RemoteAddr()),
			zap.Duration("duration", time.Since(sess.CreatedAt())),
			zap.Int("turns", len(sess.History())),
		)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := newEmitter(conn)
	go h.pingLoop(ctx, out)

	if err := h.serve(ctx, conn, sess, out, logger); err != nil {
		logger.Warn("session terminated", zap.Error(err))
		if sendErr := out.Send(protocol.Error(clientMessage(err))); sendErr != nil {
			logger.Debug("send error frame failed", zap.Error(sendErr))
		}
		out.close(closeCode(err), "")
	}
}

// serve reads frames until the client disconnects (nil) or a control
// message fails terminally (the error).
func (h *WebSocketHandler) serve(ctx context.Context, conn *websocket.Conn, sess *sessionservice.Session, out *emitter, logger *zap.Logger) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("read error", zap.Error(err))
			}
			return nil
		}

		switch kind {
		case websocket.BinaryMessage:
			sess.AppendAudio(data)
		case websocket.TextMessage:
			ctrl, err := protocol.ParseControl(data)
			if err != nil {
				return err
			}
			if err := h.dispatch(ctx, sess, ctrl, out, logger); err != nil {
				return err
			}
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, sess *sessionservice.Session, ctrl protocol.Control, out *emitter, logger *zap.Logger) error {
	switch msg := ctrl.(type) {
	case protocol.FlushAudio:
		if sess.AudioLen() == 0 {
			return nil
		}
		audio := sess.Audio()
		sess.ResetAudio()
		logger.Debug("flushing audio", zap.Int("bytes", len(audio)))
		return h.pipeline.RunAudio(ctx, sess, audio, out)

	case protocol.TextQuery:
		if msg.Text == "" {
			return nil
		}
		return h.pipeline.RunText(ctx, sess, msg.Text, out)

	case protocol.SetPersonality:
		if !h.catalog.Contains(msg.VoiceID) {
			logger.Debug("unknown voice", zap.String("voice_id", msg.VoiceID))
			h.send(out, protocol.Error(fmt.Sprintf("unknown voice_id: %s", msg.VoiceID)), logger)
			return nil
		}
		sess.SetPersonality(msg.VoiceID)
		h.send(out, protocol.PersonalityAck(msg.VoiceID), logger)

	case protocol.Ping:
		h.send(out, protocol.Pong(), logger)

	default:
		logger.Debug("ignoring control message", zap.String("type", string(ctrl.Type())))
	}
	return nil
}

func (h *WebSocketHandler) send(out *emitter, msg protocol.Outbound, logger *zap.Logger) {
	if err := out.Send(msg); err != nil {
		logger.Debug("send frame failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, out *emitter) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// clientMessage is the error text a client sees. Details stay in the logs;
// they can echo the client's input or upstream responses.
func clientMessage(err error) string {
	for _, known := range []error{
		errs.ErrProtocol,
		errs.ErrUpstreamGeneration,
		errs.ErrSynthesisUnavailable,
		errs.ErrBusy,
		errs.ErrRegistryClosed,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal server error"
}

func closeCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrProtocol):
		return websocket.CloseUnsupportedData
	case errors.Is(err, errs.ErrBusy):
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}

// emitter serializes data frames onto the socket. Control frames bypass the
// lock; gorilla allows WriteControl concurrently with other writers.
type emitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newEmitter(conn *websocket.Conn) *emitter {
	return &emitter{conn: conn}
}

// Send implements pipeline.Emitter.
func (e *emitter) Send(msg protocol.Outbound) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return e.write(websocket.TextMessage, data)
}

// SendAudio implements pipeline.Emitter.
func (e *emitter) SendAudio(audio []byte) error {
	return e.write(websocket.BinaryMessage, audio)
}

func (e *emitter) write(kind int, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return e.conn.WriteMessage(kind, data)
}

func (e *emitter) close(code int, reason string) {
	_ = e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}
