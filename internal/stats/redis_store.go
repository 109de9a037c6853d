package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidDay 分桶格式错误
var ErrInvalidDay = errors.New("stats: day must be formatted as YYYY-MM-DD")

const (
	switchOpen  = "open"
	switchClose = "close"
)

// StoreConfig 存储配置
type StoreConfig struct {
	KeyPrefix     string
	TTL           time.Duration // 0 表示不过期
	MaxRecords    int64         // 每个消息分桶最多保留的记录数，0 表示不限制
	SwitchDefault bool          // 从未设置时的开关状态
}

// DefaultStoreConfig 默认存储配置
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		KeyPrefix:     "ssebridge:",
		TTL:           7 * 24 * time.Hour,
		MaxRecords:    10000,
		SwitchDefault: true,
	}
}

// RedisStore 基于 Redis 列表和集合的统计存储
type RedisStore struct {
	rdb    *redis.Client
	config *StoreConfig
}

// NewRedisStore 创建 Redis 统计存储
func NewRedisStore(rdb *redis.Client, config *StoreConfig) *RedisStore {
	if config == nil {
		config = DefaultStoreConfig()
	}
	return &RedisStore{rdb: rdb, config: config}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.config.KeyPrefix + "sse"
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) connectDayKey(day string) string { return s.key("connect", day) }

func (s *RedisStore) connectListKey(day, channel string) string {
	return s.key("connect", day, channel)
}

func (s *RedisStore) channelDaysKey(channel string) string {
	return s.key("connect", "days", channel)
}

func (s *RedisStore) messageKey(dir Direction, day string) string {
	return s.key(string(dir), day)
}

func (s *RedisStore) switchKey() string { return s.key("switch") }

// AddConnect 追加连接记录
func (s *RedisStore) AddConnect(ctx context.Context, channel string, record *ConnectRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode connect record: %w", err)
	}
	day := Day(record.ConnectTime)

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, s.connectListKey(day, channel), payload)
	pipe.SAdd(ctx, s.connectDayKey(day), channel)
	pipe.SAdd(ctx, s.channelDaysKey(channel), day)
	if s.config.TTL > 0 {
		pipe.Expire(ctx, s.connectListKey(day, channel), s.config.TTL)
		pipe.Expire(ctx, s.connectDayKey(day), s.config.TTL)
		pipe.Expire(ctx, s.channelDaysKey(channel), s.config.TTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteConnect 删除频道在所有分桶中的连接记录
func (s *RedisStore) DeleteConnect(ctx context.Context, channel string) error {
	days, err := s.rdb.SMembers(ctx, s.channelDaysKey(channel)).Result()
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	for _, day := range days {
		pipe.Del(ctx, s.connectListKey(day, channel))
		pipe.SRem(ctx, s.connectDayKey(day), channel)
	}
	pipe.Del(ctx, s.channelDaysKey(channel))
	_, err = pipe.Exec(ctx)
	return err
}

// GetConnectStats 查询某天的连接记录
func (s *RedisStore) GetConnectStats(ctx context.Context, day string) (map[string][]*ConnectRecord, error) {
	if !ValidDay(day) {
		return nil, ErrInvalidDay
	}

	channels, err := s.rdb.SMembers(ctx, s.connectDayKey(day)).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string][]*ConnectRecord, len(channels))
	for _, channel := range channels {
		raw, err := s.rdb.LRange(ctx, s.connectListKey(day, channel), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		records := make([]*ConnectRecord, 0, len(raw))
		for _, item := range raw {
			var record ConnectRecord
			if err := json.Unmarshal([]byte(item), &record); err != nil {
				return nil, fmt.Errorf("decode connect record: %w", err)
			}
			records = append(records, &record)
		}
		result[channel] = records
	}
	return result, nil
}

// AddPubMessage 追加发布记录
func (s *RedisStore) AddPubMessage(ctx context.Context, record *LogRecord) error {
	return s.addMessage(ctx, DirectionPub, record)
}

// AddSubMessage 追加接收记录
func (s *RedisStore) AddSubMessage(ctx context.Context, record *LogRecord) error {
	return s.addMessage(ctx, DirectionSub, record)
}

func (s *RedisStore) addMessage(ctx context.Context, dir Direction, record *LogRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", dir, err)
	}
	key := s.messageKey(dir, Day(record.Time))

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	if s.config.MaxRecords > 0 {
		pipe.LTrim(ctx, key, -s.config.MaxRecords, -1)
	}
	if s.config.TTL > 0 {
		pipe.Expire(ctx, key, s.config.TTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetPubMessages 分页查询发布记录
func (s *RedisStore) GetPubMessages(ctx context.Context, day string, start, end int64) ([]*LogRecord, error) {
	return s.getMessages(ctx, DirectionPub, day, start, end)
}

// GetSubMessages 分页查询接收记录
func (s *RedisStore) GetSubMessages(ctx context.Context, day string, start, end int64) ([]*LogRecord, error) {
	return s.getMessages(ctx, DirectionSub, day, start, end)
}

func (s *RedisStore) getMessages(ctx context.Context, dir Direction, day string, start, end int64) ([]*LogRecord, error) {
	if !ValidDay(day) {
		return nil, ErrInvalidDay
	}

	raw, err := s.rdb.LRange(ctx, s.messageKey(dir, day), start, end).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*LogRecord, 0, len(raw))
	for _, item := range raw {
		var record LogRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", dir, err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// GetSwitch 读取SSE总开关
func (s *RedisStore) GetSwitch(ctx context.Context) (bool, error) {
	value, err := s.rdb.Get(ctx, s.switchKey()).Result()
	if errors.Is(err, redis.Nil) {
		return s.config.SwitchDefault, nil
	}
	if err != nil {
		return false, err
	}
	return value == switchOpen, nil
}

// SetSwitch 写入SSE总开关
func (s *RedisStore) SetSwitch(ctx context.Context, open bool) error {
	value := switchClose
	if open {
		value = switchOpen
	}
	return s.rdb.Set(ctx, s.switchKey(), value, 0).Err()
}
