package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/ndenisov/beamtalk-server/internal/auth"
	"github.com/ndenisov/beamtalk-server/internal/core"
	"github.com/ndenisov/beamtalk-server/internal/proto"
	"github.com/ndenisov/beamtalk-server/internal/utils"
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// WSHandler upgrades HTTP requests to websocket sessions and bridges
// them onto the hub. Each session authenticates with a hello frame
// before any other traffic is accepted.
type WSHandler struct {
	hub     *core.Hub
	auth    *auth.Service
	limiter *rateLimiter
	log     *zerolog.Logger
}

func NewWSHandler(hub *core.Hub, authService *auth.Service, msgsPerSec int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:     hub,
		auth:    authService,
		limiter: newRateLimiter(msgsPerSec),
		log:     logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session closed")

	ctx := r.Context()

	client, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket handshake rejected")
		_ = writeOutbound(ctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: "unauthorized", Msg: "authentication required"},
		})
		conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	h.log.Info().
		Str("client", client.ID).
		Int64("user", client.UserID).
		Msg("client connected")

	h.hub.RegisterClient(client)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writeLoop(ctx, conn, client)
	}()

	h.readLoop(ctx, conn, client)

	h.hub.UnregisterClient(client)
	close(client.Commands)
	h.limiter.forget(client.ID)
	<-writeDone

	h.log.Info().
		Str("client", client.ID).
		Int64("user", client.UserID).
		Msg("client disconnected")

	conn.Close(websocket.StatusNormalClosure, "bye")
}

// handshake waits for the hello frame and resolves the session identity
// from its token.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*core.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var in proto.Inbound
	if err := wsjson.Read(ctx, conn, &in); err != nil {
		return nil, err
	}
	if in.Type != proto.InboundTypeHello {
		return nil, errors.New("expected hello frame")
	}
	var hello proto.HelloData
	if err := json.Unmarshal(in.Data, &hello); err != nil {
		return nil, err
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return nil, errors.New("unsupported protocol version")
	}

	claims, err := h.auth.ValidateToken(hello.Token)
	if err != nil {
		return nil, err
	}

	return core.NewClient(utils.NewID(), claims.UserID, claims.Username), nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) {
	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}

		if in.Type == proto.InboundTypeMsg && !h.limiter.allow(client.ID) {
			client.Deliver(&core.Event{
				Kind:  core.EventError,
				Error: &core.CoreError{Code: "rate_limited", Message: "too many messages"},
			})
			continue
		}

		cmd, err := inboundToCommand(client, &in)
		if err != nil {
			client.Deliver(&core.Event{
				Kind:  core.EventError,
				Error: coreErrorFrom(err),
			})
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) {
	for {
		select {
		case ev, open := <-client.Events:
			if !open {
				return
			}
			out, ok := outboundFromEvent(ev)
			if !ok {
				continue
			}
			if err := writeOutbound(ctx, conn, out); err != nil {
				h.log.Debug().
					Str("client", client.ID).
					Err(err).
					Msg("write failed, dropping session")
				return
			}
		case <-h.hub.Done():
			return
		}
	}
}

func writeOutbound(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}

func coreErrorFrom(err error) *core.CoreError {
	var ce *core.CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return &core.CoreError{Code: "invalid_message", Message: err.Error()}
}
