package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/sandbox/engine"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/hub"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/player"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

const writeTimeout = 3 * time.Second

// Handler serves /game/ws/{token}. The token is checked after the upgrade so a
// rejected client sees close code 4001 rather than a failed handshake.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Sandbox is for local development only.
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		user, p, err := h.Authenticate(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			_ = conn.Close(websocket.StatusCode(types.CloseTokenRejected), authDetail(err))
			return
		}

		connID := uuid.NewString()
		log := log.With(zap.Int64("user_id", user.ID), zap.String("conn_id", connID))

		out := make(chan player.Frame, 32)
		if !p.Post(player.Join{ConnID: connID, Outbox: out}) {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer p.Post(player.Leave{ConnID: connID})
		log.Debug("websocket joined")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case f, ok := <-out:
					if !ok {
						// dropped by the player for falling behind
						_ = conn.Close(websocket.StatusPolicyViolation, "too slow")
						return
					}
					if f.Close != 0 {
						_ = conn.Close(websocket.StatusCode(f.Close), f.Reason)
						return
					}
					if err := writeFrame(ctx, conn, f.Type, f.Data); err != nil {
						log.Debug("websocket write failed", zap.Error(err))
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("websocket closed by client")
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("websocket read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeFrame(ctx, conn, types.EvtError, types.ErrorMessage{Message: "Invalid message format"})
				continue
			}

			msg, ok := toPlayerMsg(cm)
			if !ok {
				_ = writeFrame(ctx, conn, types.EvtError, types.ErrorMessage{Message: "Unknown message type: " + cm.Type})
				continue
			}
			if !p.Post(msg) {
				return
			}
		}
	}
}

func toPlayerMsg(m types.ClientMessage) (player.Msg, bool) {
	switch m.Type {
	case types.MsgClick:
		return player.FromClient{Cmd: engine.Command{Type: engine.CmdClick}}, true
	case types.MsgBuyItem:
		return player.FromClient{Cmd: engine.Command{Type: engine.CmdBuyItem, ItemID: m.ItemID}}, true
	case types.MsgGetState, types.MsgGetItems:
		return player.Request{Type: m.Type}, true
	default:
		return nil, false
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	env, err := types.NewEnvelope(typ, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
