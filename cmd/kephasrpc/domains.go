package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc"
)

func mathDomain() any {
	operands := func(params kephasrpc.Params) (float64, float64, error) {
		if params.Len() != 2 {
			return 0, 0, fmt.Errorf("%w: want 2 operands, got %d", kephasrpc.ErrInvalidParams, params.Len())
		}
		a, err := params.Float(0)
		if err != nil {
			return 0, 0, err
		}
		b, err := params.Float(1)
		if err != nil {
			return 0, 0, err
		}
		return a, b, nil
	}
	number := func(f float64) any {
		if i := int64(f); float64(i) == f {
			return i
		}
		return f
	}

	return kephasrpc.Commands{
		"add": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			a, b, err := operands(params)
			if err != nil {
				return nil, err
			}
			return number(a + b), nil
		},
		"sub": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			a, b, err := operands(params)
			if err != nil {
				return nil, err
			}
			return number(a - b), nil
		},
	}
}

// systemDomain reports on the server itself.
func systemDomain(server kephasrpc.Server, started time.Time) kephasrpc.DomainSupplier {
	return func() any {
		return kephasrpc.Commands{
			"clients": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
				return server.ClientCount(), nil
			},
			"uptime": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
				return time.Since(started).Round(time.Second).String(), nil
			},
			"whoami": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
				return map[string]string{"id": client.ID(), "remote_addr": client.RemoteAddr()}, nil
			},
		}
	}
}

// echoDomain answers every command with its raw parameters, untouched.
func echoDomain() any {
	return kephasrpc.InvocatorFunc(func(ctx context.Context, client kephasrpc.Client, messageID int32, command string, rawParams []byte) error {
		if messageID == kephasrpc.NoID {
			return nil
		}
		if len(rawParams) == 0 {
			rawParams = []byte("[]")
		}
		return client.Respond(messageID, kephasrpc.RawJSON(rawParams))
	})
}

type chatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type userInfo struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// chatRoom keeps one user per connected client and relays messages to all of
// them through chat.* broadcasts.
type chatRoom struct {
	server kephasrpc.Server
	log    zerolog.Logger

	mu    sync.RWMutex
	users map[string]*userInfo
}

func newChatRoom(log zerolog.Logger) *chatRoom {
	return &chatRoom{
		log:   log.With().Str("domain", "chat").Logger(),
		users: make(map[string]*userInfo),
	}
}

func (cr *chatRoom) join(client kephasrpc.Client) {
	cr.mu.Lock()
	cr.users[client.ID()] = &userInfo{
		ID:       client.ID(),
		Username: "Guest_" + client.ID()[:8],
		JoinedAt: time.Now(),
	}
	cr.mu.Unlock()
}

func (cr *chatRoom) leave(client kephasrpc.Client) {
	cr.mu.Lock()
	user := cr.users[client.ID()]
	delete(cr.users, client.ID())
	cr.mu.Unlock()

	if user != nil {
		cr.broadcast("left", user)
	}
}

func (cr *chatRoom) broadcast(command string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		cr.log.Error().Err(err).Str("command", command).Msg("encode broadcast")
		return
	}
	err = cr.server.BroadcastRaw("chat", command, kephasrpc.RawJSON(data))
	if err != nil && !errors.Is(err, kephasrpc.ErrServerNotRunning) {
		cr.log.Warn().Err(err).Str("command", command).Msg("broadcast failed")
	}
}

func (cr *chatRoom) username(client kephasrpc.Client) string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	if user, ok := cr.users[client.ID()]; ok {
		return user.Username
	}
	return ""
}

func (cr *chatRoom) domain() any {
	return kephasrpc.Commands{
		"send": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			text, err := params.String(0)
			if err != nil {
				return nil, err
			}
			msg := chatMessage{Username: cr.username(client), Message: text, Timestamp: time.Now()}
			cr.broadcast("message", msg)
			return true, nil
		},
		"users": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			cr.mu.RLock()
			defer cr.mu.RUnlock()
			users := make([]userInfo, 0, len(cr.users))
			for _, user := range cr.users {
				users = append(users, *user)
			}
			return users, nil
		},
		"rename": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			name, err := params.String(0)
			if err != nil {
				return nil, err
			}
			if name == "" {
				return nil, fmt.Errorf("%w: empty username", kephasrpc.ErrInvalidParams)
			}

			cr.mu.Lock()
			user, ok := cr.users[client.ID()]
			if !ok {
				cr.mu.Unlock()
				return nil, kephasrpc.ErrConnectionClosed
			}
			user.Username = name
			joined := *user
			cr.mu.Unlock()

			cr.log.Info().Str("client_id", client.ID()).Str("username", name).Msg("user renamed")
			cr.broadcast("joined", joined)
			return joined, nil
		},
	}
}
