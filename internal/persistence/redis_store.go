package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/siirto/pkg/api"
)

// RedisAuditStore is an AuditStore backed by Redis. It uses a simple key
// structure under a prefix:
//
//	<prefix>seq                                => INCR counter for entry IDs
//	<prefix>head:<machine>:<type>:<id>         => ID of the entity's latest entry
//	<prefix>entry:<id>                         => gob-encoded entry payload
//	<prefix>idx:all                            => LIST of entry IDs in append order
//
// The head key is the serialization point: a Lua script compares it with
// the caller's prevID and allocates, links and stores the new entry in
// one atomic step.
type RedisAuditStore struct {
	client *redis.Client
	prefix string
}

var _ AuditStore = (*RedisAuditStore)(nil)

const redisDefaultPrefix = "siirto:"

// appendScript performs the compare-and-append. KEYS: head, seq, idx.
// ARGV: prevID, payload, entry key prefix. Returns the new entry ID, or
// -1 when the head moved.
var appendScript = redis.NewScript(`
	local head = redis.call("GET", KEYS[1])
	if not head then head = "0" end
	if head ~= ARGV[1] then
		return -1
	end
	local id = redis.call("INCR", KEYS[2])
	redis.call("SET", KEYS[1], id)
	redis.call("SET", ARGV[3] .. id, ARGV[2])
	redis.call("RPUSH", KEYS[3], id)
	return id
`)

// NewRedisAuditStore creates a RedisAuditStore. prefix is optional and
// defaults to "siirto:".
func NewRedisAuditStore(client *redis.Client, prefix string) *RedisAuditStore {
	if prefix == "" {
		prefix = redisDefaultPrefix
	}
	return &RedisAuditStore{client: client, prefix: prefix}
}

func (s *RedisAuditStore) keySeq() string { return s.prefix + "seq" }
func (s *RedisAuditStore) keyIdx() string { return s.prefix + "idx:all" }

func (s *RedisAuditStore) keyHead(machineID, entityType, entityID string) string {
	return s.prefix + "head:" + machineID + ":" + entityType + ":" + entityID
}

func (s *RedisAuditStore) keyEntryPrefix() string { return s.prefix + "entry:" }

type redisEntryPayload struct {
	MachineID    string
	EntityType   string
	EntityID     string
	FromStateID  string
	ToStateID    string
	TransitionID string
	PrincipalID  string
	Comment      string
	Metadata     []byte
	CreatedAt    int64 // unix nanoseconds
}

func encodeRedisEntry(e *api.LogEntry) ([]byte, error) {
	meta, err := EncodeMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	payload := redisEntryPayload{
		MachineID:    e.MachineID,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		FromStateID:  e.FromStateID,
		ToStateID:    e.ToStateID,
		TransitionID: e.TransitionID,
		PrincipalID:  e.PrincipalID,
		Comment:      e.Comment,
		Metadata:     meta,
		CreatedAt:    e.CreatedAt.UnixNano(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisEntry(id int64, data []byte) (*api.LogEntry, error) {
	if len(data) == 0 {
		return nil, ErrNoEntry
	}
	var payload redisEntryPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}
	meta, err := DecodeMetadata(payload.Metadata)
	if err != nil {
		return nil, err
	}
	return &api.LogEntry{
		ID:           id,
		MachineID:    payload.MachineID,
		EntityType:   payload.EntityType,
		EntityID:     payload.EntityID,
		FromStateID:  payload.FromStateID,
		ToStateID:    payload.ToStateID,
		TransitionID: payload.TransitionID,
		PrincipalID:  payload.PrincipalID,
		Comment:      payload.Comment,
		Metadata:     meta,
		CreatedAt:    time.Unix(0, payload.CreatedAt).UTC(),
	}, nil
}

func (s *RedisAuditStore) Append(ctx context.Context, e *api.LogEntry, prevID int64) (int64, error) {
	data, err := encodeRedisEntry(e)
	if err != nil {
		return 0, err
	}

	res, err := appendScript.Run(ctx, s.client,
		[]string{
			s.keyHead(e.MachineID, e.EntityType, e.EntityID),
			s.keySeq(),
			s.keyIdx(),
		},
		strconv.FormatInt(prevID, 10),
		data,
		s.keyEntryPrefix(),
	).Int64()
	if err != nil {
		return 0, err
	}
	if res == -1 {
		return 0, ErrConflict
	}
	return res, nil
}

func (s *RedisAuditStore) Latest(ctx context.Context, machineID, entityType, entityID string) (*api.LogEntry, error) {
	id, err := s.client.Get(ctx, s.keyHead(machineID, entityType, entityID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoEntry
		}
		return nil, err
	}

	data, err := s.client.Get(ctx, s.keyEntryPrefix()+strconv.FormatInt(id, 10)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoEntry
		}
		return nil, err
	}
	return decodeRedisEntry(id, data)
}

func (s *RedisAuditStore) Query(ctx context.Context, f api.LogFilter, p api.Page) ([]*api.LogEntry, error) {
	ids, err := s.client.LRange(ctx, s.keyIdx(), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyEntryPrefix()+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// Filtering happens on the decoded payloads; the idx list is in
	// append (and therefore ID) order already.
	var matched []*api.LogEntry
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		id, err := strconv.ParseInt(ids[i], 10, 64)
		if err != nil {
			return nil, err
		}
		e, err := decodeRedisEntry(id, data)
		if err != nil {
			return nil, err
		}
		if matchFilter(e, f) {
			matched = append(matched, e)
		}
	}

	return paginate(matched, p), nil
}

// RedisTenantStores isolates tenants under distinct key prefixes. The
// provisioned set lives under <base>tenants.
type RedisTenantStores struct {
	client *redis.Client
	base   string
	shared *RedisAuditStore
}

var _ TenantStores = (*RedisTenantStores)(nil)

// NewRedisTenantStores creates a tenant router. base is optional and
// defaults to "siirto:".
func NewRedisTenantStores(client *redis.Client, base string) *RedisTenantStores {
	if base == "" {
		base = redisDefaultPrefix
	}
	return &RedisTenantStores{
		client: client,
		base:   base,
		shared: NewRedisAuditStore(client, base),
	}
}

func (m *RedisTenantStores) Shared() AuditStore { return m.shared }

func (m *RedisTenantStores) keyTenants() string { return m.base + "tenants" }

func (m *RedisTenantStores) Provision(ctx context.Context, tenant string) error {
	if !ValidTenant(tenant) {
		return errInvalidTenant
	}
	return m.client.SAdd(ctx, m.keyTenants(), tenant).Err()
}

func (m *RedisTenantStores) ForTenant(ctx context.Context, tenant string) (AuditStore, error) {
	if !ValidTenant(tenant) {
		return nil, errInvalidTenant
	}
	ok, err := m.client.SIsMember(ctx, m.keyTenants(), tenant).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTenantNotProvisioned
	}
	return NewRedisAuditStore(m.client, m.base+tenant+":"), nil
}
