package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const switchName = "sse"

// connectRow sse_connect_stats 表
type connectRow struct {
	ID          uint      `gorm:"primaryKey"`
	Day         string    `gorm:"not null;index"`
	Channel     string    `gorm:"not null;index"`
	ConnectTime time.Time `gorm:"not null"`
	LocalNodeID string    `gorm:"not null"`
	Extra       string
	CreatedAt   time.Time
}

func (connectRow) TableName() string { return "sse_connect_stats" }

// messageRow sse_message_logs 表
type messageRow struct {
	ID          uint      `gorm:"primaryKey"`
	Day         string    `gorm:"not null"`
	Direction   Direction `gorm:"not null"`
	Channel     string    `gorm:"not null"`
	Message     string    `gorm:"not null"`
	PushCount   *int64
	LocalNodeID string    `gorm:"not null"`
	Time        time.Time `gorm:"not null"`
	CreatedAt   time.Time
}

func (messageRow) TableName() string { return "sse_message_logs" }

// switchRow sse_switches 表
type switchRow struct {
	Name      string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (switchRow) TableName() string { return "sse_switches" }

// GormStore 基于 SQLite 的统计存储，表结构由迁移创建
type GormStore struct {
	db     *gorm.DB
	config *StoreConfig
}

// NewGormStore 创建 SQLite 统计存储
func NewGormStore(db *gorm.DB, config *StoreConfig) *GormStore {
	if config == nil {
		config = DefaultStoreConfig()
	}
	return &GormStore{db: db, config: config}
}

// AddConnect 追加连接记录
func (s *GormStore) AddConnect(ctx context.Context, channel string, record *ConnectRecord) error {
	row := &connectRow{
		Day:         Day(record.ConnectTime),
		Channel:     channel,
		ConnectTime: record.ConnectTime.UTC(),
		LocalNodeID: record.LocalNodeID,
	}
	if len(record.Extra) > 0 {
		extra, err := json.Marshal(record.Extra)
		if err != nil {
			return fmt.Errorf("encode connect extra: %w", err)
		}
		row.Extra = string(extra)
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// DeleteConnect 删除频道的全部连接记录
func (s *GormStore) DeleteConnect(ctx context.Context, channel string) error {
	return s.db.WithContext(ctx).Where("channel = ?", channel).Delete(&connectRow{}).Error
}

// GetConnectStats 查询某天的连接记录
func (s *GormStore) GetConnectStats(ctx context.Context, day string) (map[string][]*ConnectRecord, error) {
	if !ValidDay(day) {
		return nil, ErrInvalidDay
	}

	var rows []connectRow
	if err := s.db.WithContext(ctx).Where("day = ?", day).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make(map[string][]*ConnectRecord)
	for _, row := range rows {
		record := &ConnectRecord{
			Channel:     row.Channel,
			ConnectTime: row.ConnectTime,
			LocalNodeID: row.LocalNodeID,
		}
		if row.Extra != "" {
			if err := json.Unmarshal([]byte(row.Extra), &record.Extra); err != nil {
				return nil, fmt.Errorf("decode connect extra: %w", err)
			}
		}
		result[row.Channel] = append(result[row.Channel], record)
	}
	return result, nil
}

// AddPubMessage 追加发布记录
func (s *GormStore) AddPubMessage(ctx context.Context, record *LogRecord) error {
	return s.addMessage(ctx, DirectionPub, record)
}

// AddSubMessage 追加接收记录
func (s *GormStore) AddSubMessage(ctx context.Context, record *LogRecord) error {
	return s.addMessage(ctx, DirectionSub, record)
}

func (s *GormStore) addMessage(ctx context.Context, dir Direction, record *LogRecord) error {
	payload, err := json.Marshal(record.Message)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", dir, err)
	}
	row := &messageRow{
		Day:         Day(record.Time),
		Direction:   dir,
		Channel:     record.Channel,
		Message:     string(payload),
		PushCount:   record.PushCount,
		LocalNodeID: record.LocalNodeID,
		Time:        record.Time.UTC(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if s.config.MaxRecords <= 0 {
			return nil
		}
		// 只保留分桶内最新的 MaxRecords 条
		keep := tx.Model(&messageRow{}).
			Select("id").
			Where("day = ? AND direction = ?", row.Day, dir).
			Order("id DESC").
			Limit(int(s.config.MaxRecords))
		return tx.Where("day = ? AND direction = ? AND id NOT IN (?)", row.Day, dir, keep).
			Delete(&messageRow{}).Error
	})
}

// GetPubMessages 分页查询发布记录
func (s *GormStore) GetPubMessages(ctx context.Context, day string, start, end int64) ([]*LogRecord, error) {
	return s.getMessages(ctx, DirectionPub, day, start, end)
}

// GetSubMessages 分页查询接收记录
func (s *GormStore) GetSubMessages(ctx context.Context, day string, start, end int64) ([]*LogRecord, error) {
	return s.getMessages(ctx, DirectionSub, day, start, end)
}

func (s *GormStore) getMessages(ctx context.Context, dir Direction, day string, start, end int64) ([]*LogRecord, error) {
	if !ValidDay(day) {
		return nil, ErrInvalidDay
	}

	bucket := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&messageRow{}).Where("day = ? AND direction = ?", day, dir)
	}

	var total int64
	if err := bucket().Count(&total).Error; err != nil {
		return nil, err
	}
	lo, hi, ok := pageBounds(start, end, total)
	if !ok {
		return []*LogRecord{}, nil
	}

	var rows []messageRow
	if err := bucket().Order("id").Offset(int(lo)).Limit(int(hi - lo)).Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]*LogRecord, 0, len(rows))
	for _, row := range rows {
		record := &LogRecord{
			Channel:     row.Channel,
			PushCount:   row.PushCount,
			LocalNodeID: row.LocalNodeID,
			Time:        row.Time,
		}
		if err := json.Unmarshal([]byte(row.Message), &record.Message); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", dir, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// GetSwitch 读取SSE总开关
func (s *GormStore) GetSwitch(ctx context.Context) (bool, error) {
	var row switchRow
	err := s.db.WithContext(ctx).Where("name = ?", switchName).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.config.SwitchDefault, nil
	}
	if err != nil {
		return false, err
	}
	return row.Value == switchOpen, nil
}

// SetSwitch 写入SSE总开关
func (s *GormStore) SetSwitch(ctx context.Context, open bool) error {
	value := switchClose
	if open {
		value = switchOpen
	}
	row := &switchRow{Name: switchName, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(row).Error
}

// Purge 删除早于 before 的分桶，TTL 的 SQLite 等价物
func (s *GormStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	cutoff := Day(before)
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("day < ?", cutoff).Delete(&messageRow{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected
		res = tx.Where("day < ?", cutoff).Delete(&connectRow{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected
		return nil
	})
	return purged, err
}
