package ws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	sharedredis "persona-ritual/backend/shared/redis"

	"github.com/redis/go-redis/v9"
)

// PresenceStore tracks which user a connection authenticated as and which rooms it joined.
// Bindings have no TTL: they live until the connection is removed.
type PresenceStore interface {
	Bind(ctx context.Context, connID, userID string) error
	// UserFor reports the user bound to connID, or "" when the connection never authenticated
	UserFor(ctx context.Context, connID string) (string, error)
	Join(ctx context.Context, connID, room string) error
	Members(ctx context.Context, room string) ([]string, error)
	// Remove drops the binding and every room membership of connID
	Remove(ctx context.Context, connID string) error
	Ping(ctx context.Context) error
}

// SessionRoom names the room that receives replies for a chat session
func SessionRoom(sessionID string) string {
	return "session:" + sessionID
}

// MemoryPresence keeps presence in process. Suitable for a single instance.
type MemoryPresence struct {
	mu    sync.RWMutex
	users map[string]string
	rooms map[string]map[string]struct{}
	joins map[string]map[string]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		users: make(map[string]string),
		rooms: make(map[string]map[string]struct{}),
		joins: make(map[string]map[string]struct{}),
	}
}

func (p *MemoryPresence) Bind(_ context.Context, connID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[connID] = userID
	return nil
}

func (p *MemoryPresence) UserFor(_ context.Context, connID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.users[connID], nil
}

func (p *MemoryPresence) Join(_ context.Context, connID, room string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rooms[room] == nil {
		p.rooms[room] = make(map[string]struct{})
	}
	p.rooms[room][connID] = struct{}{}

	if p.joins[connID] == nil {
		p.joins[connID] = make(map[string]struct{})
	}
	p.joins[connID][room] = struct{}{}
	return nil
}

func (p *MemoryPresence) Members(_ context.Context, room string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := make([]string, 0, len(p.rooms[room]))
	for id := range p.rooms[room] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}

func (p *MemoryPresence) Remove(_ context.Context, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for room := range p.joins[connID] {
		delete(p.rooms[room], connID)
		if len(p.rooms[room]) == 0 {
			delete(p.rooms, room)
		}
	}
	delete(p.joins, connID)
	delete(p.users, connID)
	return nil
}

func (p *MemoryPresence) Ping(context.Context) error {
	return nil
}

// RedisPresence shares presence between relay instances through redis sets
type RedisPresence struct {
	client *sharedredis.Client
}

func NewRedisPresence(client *sharedredis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) userKey(connID string) string {
	return p.client.Key("presence", "conn", connID, "user")
}

func (p *RedisPresence) joinsKey(connID string) string {
	return p.client.Key("presence", "conn", connID, "rooms")
}

func (p *RedisPresence) roomKey(room string) string {
	return p.client.Key("presence", "room", room)
}

func (p *RedisPresence) Bind(ctx context.Context, connID, userID string) error {
	if err := p.client.Redis().Set(ctx, p.userKey(connID), userID, 0).Err(); err != nil {
		return fmt.Errorf("failed to bind connection: %w", err)
	}
	return nil
}

func (p *RedisPresence) UserFor(ctx context.Context, connID string) (string, error) {
	user, err := p.client.Redis().Get(ctx, p.userKey(connID)).Result()
	if errors.Is(err, sharedredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read binding: %w", err)
	}
	return user, nil
}

func (p *RedisPresence) Join(ctx context.Context, connID, room string) error {
	_, err := p.client.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, p.roomKey(room), connID)
		pipe.SAdd(ctx, p.joinsKey(connID), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	return nil
}

func (p *RedisPresence) Members(ctx context.Context, room string) ([]string, error) {
	members, err := p.client.Redis().SMembers(ctx, p.roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (p *RedisPresence) Remove(ctx context.Context, connID string) error {
	rdb := p.client.Redis()

	rooms, err := rdb.SMembers(ctx, p.joinsKey(connID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list joined rooms: %w", err)
	}

	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, room := range rooms {
			pipe.SRem(ctx, p.roomKey(room), connID)
		}
		pipe.Del(ctx, p.joinsKey(connID), p.userKey(connID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}
	return nil
}

func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}
