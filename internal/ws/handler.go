package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"amora_backend/internal/domain"
	"amora_backend/internal/security"
	"amora_backend/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol),
// then dispatches client events:
//   - message   -> create & broadcast to conversation participants; counts
//     toward the consent-gate thresholds, so a send may also
//     trigger a level_threshold_reached push
//   - mark_read -> update last_read_at + notify the other participant
//   - typing    -> forward typing indicator to the other participant
//
// Gate events (level_threshold_reached, level2_unlocked, level3_unlocked) are
// pushed through the same hub by the gate service.
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	users domain.UserRepository,
	convs domain.ConversationRepository,
	msgSvc *service.MessageService,
	logger *logrus.Logger,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			http.Error(w, "invalid token subject", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByUsername(ctx, sub)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := users.SetOnlineStatus(ctx, user.ID, true); err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Warn("ws: set online")
		}
		hub.Register(user.ID, conn)
		defer func() {
			hub.Unregister(user.ID, conn)
			if err := users.SetOnlineStatus(context.Background(), user.ID, false); err != nil {
				logger.WithError(err).WithField("user_id", user.ID).Warn("ws: set offline")
			}
			hub.BroadcastAll(map[string]any{
				"type":     "user_offline",
				"user_id":  user.ID,
				"username": user.Username,
			})
		}()
		hub.BroadcastAll(map[string]any{
			"type":     "user_online",
			"user_id":  user.ID,
			"username": user.Username,
		})

		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				break
			}
			msgType, _ := payload["type"].(string)
			switch msgType {

			case "message":
				convIDf, _ := payload["conversation_id"].(float64)
				content, _ := payload["content"].(string)
				if convIDf == 0 || content == "" {
					writeWSError(conn, "conversation_id and content are required")
					continue
				}
				convID := int64(convIDf)

				msg, err := msgSvc.CreateMessage(ctx, service.MessageCreateInput{
					ConversationID: convID,
					Content:        content,
				}, user.ID)
				if err != nil {
					writeWSError(conn, err.Error())
					continue
				}

				resp, err := msgSvc.ToResponse(ctx, msg)
				if err != nil {
					writeWSError(conn, "failed to serialize message")
					continue
				}

				participantIDs, err := msgSvc.GetParticipantIDs(ctx, convID)
				if err != nil {
					writeWSError(conn, "failed to load participants")
					continue
				}
				hub.BroadcastToUsers(participantIDs, map[string]any{
					"type":    "new_message",
					"message": resp,
				})

			case "mark_read":
				convIDf, _ := payload["conversation_id"].(float64)
				if convIDf == 0 {
					writeWSError(conn, "conversation_id is required")
					continue
				}
				convID := int64(convIDf)
				if err := convs.MarkAsRead(ctx, convID, user.ID); err != nil {
					writeWSError(conn, err.Error())
					continue
				}
				participantIDs, err := msgSvc.GetParticipantIDs(ctx, convID)
				if err != nil {
					continue
				}
				hub.BroadcastToUsers(participantIDs, map[string]any{
					"type":            "messages_read",
					"conversation_id": convID,
					"reader_id":       user.ID,
				})

			case "typing":
				convIDf, _ := payload["conversation_id"].(float64)
				isTyping, _ := payload["is_typing"].(bool)
				if convIDf == 0 {
					continue
				}
				convID := int64(convIDf)
				participantIDs, err := msgSvc.GetParticipantIDs(ctx, convID)
				if err != nil {
					continue
				}
				others := make([]int64, 0, len(participantIDs))
				for _, pid := range participantIDs {
					if pid != user.ID {
						others = append(others, pid)
					}
				}
				hub.BroadcastToUsers(others, map[string]any{
					"type":            "typing",
					"conversation_id": convID,
					"user_id":         user.ID,
					"is_typing":       isTyping,
				})

			default:
				writeWSError(conn, fmt.Sprintf("unknown event type %q", msgType))
			}
		}
	}
}

func writeWSError(conn *websocket.Conn, msg string) {
	_ = conn.WriteJSON(map[string]any{
		"type":  "error",
		"error": msg,
	})
}
