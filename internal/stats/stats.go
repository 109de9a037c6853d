// Package stats 保存SSE连接与消息的统计记录，按天分桶
package stats

import (
	"time"
)

// DayLayout 分桶使用的日期格式
const DayLayout = "2006-01-02"

// Direction 消息方向
type Direction string

const (
	DirectionPub Direction = "pub"
	DirectionSub Direction = "sub"
)

// ConnectRecord 连接记录
type ConnectRecord struct {
	Channel     string                 `json:"channel"`
	ConnectTime time.Time              `json:"connect_time"`
	LocalNodeID string                 `json:"local_node_id"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// LogRecord 发布或接收的消息记录
type LogRecord struct {
	Channel     string                 `json:"channel"`
	Message     map[string]interface{} `json:"message"`
	PushCount   *int64                 `json:"push_count,omitempty"` // 仅发布记录
	LocalNodeID string                 `json:"local_node_id"`
	Time        time.Time              `json:"time"`
}

// Day 返回时间所在的分桶
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Today 当天的分桶
func Today() string {
	return Day(time.Now())
}

// ValidDay 校验分桶格式
func ValidDay(day string) bool {
	_, err := time.Parse(DayLayout, day)
	return err == nil
}

// pageBounds 将 start/end（含两端，end<0 表示到末尾）换算为切片下标
func pageBounds(start, end, total int64) (int64, int64, bool) {
	if start < 0 {
		start = total + start
		if start < 0 {
			start = 0
		}
	}
	if end < 0 {
		end = total + end
	}
	if end >= total {
		end = total - 1
	}
	if start > end || start >= total {
		return 0, 0, false
	}
	return start, end + 1, true
}
