package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cctpbridge/config"
	"cctpbridge/types"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store keeps every bridge operation under bridgeop:{status}:{id}, listed in
// the set of its status. bridgeopstatus:{id} points at the current status.
type Store struct {
	pool   *redis.Pool
	logger *zap.Logger
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func NewStore(host string, port int, logger *zap.Logger) *Store {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	return &Store{
		pool: &redis.Pool{
			MaxIdle:     5,
			IdleTimeout: 240 * time.Second,
			Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
		},
		logger: logger.Named("redis"),
	}
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) Ping() error {
	conn := s.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return err
}

func recordKey(status types.Status, id string) string {
	return fmt.Sprintf("bridgeop:%s:%s", status, id)
}

func statusKey(id string) string {
	return "bridgeopstatus:" + id
}

func statusSet(status types.Status) (string, error) {
	set, ok := config.RedisStatusSets[status]
	if !ok {
		return "", fmt.Errorf("redis key not found for status %q", status)
	}
	return set, nil
}

// UpsertBridgeOperation writes op under its status, moving it out of the
// status it was stored with before if that differs
func (s *Store) UpsertBridgeOperation(op *types.BridgeOperation) error {
	if op == nil {
		return errors.New("null object to store")
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	conn := s.pool.Get()
	defer conn.Close()

	prev, err := redis.String(conn.Do("GET", statusKey(op.ID)))
	if err != nil && !errors.Is(err, redis.ErrNil) {
		s.logger.Error("error Redis GET", zap.Error(err))
		return err
	}
	return s.write(conn, op, types.Status(prev))
}

func (s *Store) ChangeBridgeOperationStatus(op *types.BridgeOperation, prevStatus types.Status) error {
	if op == nil {
		return errors.New("null object to store")
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	conn := s.pool.Get()
	defer conn.Close()

	return s.write(conn, op, prevStatus)
}

// write replaces the record in one MULTI/EXEC. An empty prevStatus means a new operation.
func (s *Store) write(conn redis.Conn, op *types.BridgeOperation, prevStatus types.Status) error {
	if op.Status == "" {
		return errors.New("bridge operation cannot have empty status")
	}
	set, err := statusSet(op.Status)
	if err != nil {
		return err
	}

	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge operation to JSON: %s", err.Error())
	}

	key := recordKey(op.Status, op.ID)
	conn.Send("MULTI")
	if prevStatus != "" && prevStatus != op.Status {
		prevSet, err := statusSet(prevStatus)
		if err != nil {
			conn.Do("DISCARD")
			return err
		}
		prevKey := recordKey(prevStatus, op.ID)
		conn.Send("SREM", prevSet, prevKey)
		conn.Send("DEL", prevKey)
	}
	conn.Send("SET", key, opJSON)
	conn.Send("SADD", set, key)
	conn.Send("SET", statusKey(op.ID), string(op.Status))

	if _, err := conn.Do("EXEC"); err != nil {
		s.logger.Error("error Redis EXEC", zap.String("operation_id", op.ID), zap.Error(err))
		return err
	}
	return nil
}

// GetBridgeOperation returns nil, nil for an unknown id
func (s *Store) GetBridgeOperation(id string) (*types.BridgeOperation, error) {
	conn := s.pool.Get()
	defer conn.Close()

	status, err := redis.String(conn.Do("GET", statusKey(id)))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("error Redis GET", zap.Error(err))
		return nil, err
	}

	data, err := redis.Bytes(conn.Do("GET", recordKey(types.Status(status), id)))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("error Redis GET", zap.Error(err))
		return nil, err
	}

	var op types.BridgeOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Attention, this operation scans the whole status set.
// Finished operations stay in their sets, the terminal ones grow without bound.
func (s *Store) FindAllBridgeOperationsByStatus(status types.Status) ([]*types.BridgeOperation, error) {
	set, err := statusSet(status)
	if err != nil {
		return nil, err
	}

	conn := s.pool.Get()
	defer conn.Close()

	ops := make([]*types.BridgeOperation, 0)

	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", set, cursor))
		if err != nil {
			return nil, err
		}

		var opKeys []string
		if _, err = redis.Scan(values, &cursor, &opKeys); err != nil {
			return nil, err
		}

		for _, key := range opKeys {
			data, err := redis.Bytes(conn.Do("GET", key))
			if errors.Is(err, redis.ErrNil) {
				// moved to another status between SSCAN and GET
				continue
			}
			if err != nil {
				s.logger.Error("error Redis GET", zap.String("key", key), zap.Error(err))
				return nil, err
			}

			var op types.BridgeOperation
			if err := json.Unmarshal(data, &op); err != nil {
				s.logger.Warn("skipping unreadable bridge operation", zap.String("key", key), zap.Error(err))
				continue
			}
			if op.Status == status {
				ops = append(ops, &op)
			}
		}

		if cursor == 0 {
			break
		}
	}

	return ops, nil
}
