package sse

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"ssebridge/internal/stats"
)

// fakeBroker 进程内的broker，发布到已订阅频道的消息会回流到 GetMessage
type fakeBroker struct {
	mutex       sync.Mutex
	subscribed  map[string]bool
	frames      []*Frame
	published   []string
	publishErr  error
	pollErr     error
	subscribeFn func(channel string) error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subscribed: make(map[string]bool)}
}

func (b *fakeBroker) Publish(ctx context.Context, channel, payload string) (int64, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.publishErr != nil {
		return 0, b.publishErr
	}
	b.published = append(b.published, payload)
	if !b.subscribed[channel] {
		return 0, nil
	}
	b.frames = append(b.frames, &Frame{Kind: FrameMessage, Channel: channel, Data: payload})
	return 1, nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channels ...string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, channel := range channels {
		if b.subscribeFn != nil {
			if err := b.subscribeFn(channel); err != nil {
				return err
			}
		}
		b.subscribed[channel] = true
		b.frames = append(b.frames, &Frame{Kind: FrameSubscribe, Channel: channel})
	}
	return nil
}

func (b *fakeBroker) Unsubscribe(ctx context.Context, channels ...string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, channel := range channels {
		delete(b.subscribed, channel)
		b.frames = append(b.frames, &Frame{Kind: FrameUnsubscribe, Channel: channel})
	}
	return nil
}

func (b *fakeBroker) GetMessage(ctx context.Context) (*Frame, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.pollErr != nil {
		return nil, b.pollErr
	}
	if len(b.frames) == 0 {
		return nil, nil
	}
	frame := b.frames[0]
	b.frames = b.frames[1:]
	return frame, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) push(frame *Frame) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.frames = append(b.frames, frame)
}

func (b *fakeBroker) isSubscribed(channel string) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.subscribed[channel]
}

func (b *fakeBroker) pending() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.frames)
}

// fakeStore 内存统计存储
type fakeStore struct {
	mutex      sync.Mutex
	connects   map[string][]*stats.ConnectRecord
	pub        []*stats.LogRecord
	sub        []*stats.LogRecord
	open       *bool
	connectErr error
	pubErr     error
	subErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{connects: make(map[string][]*stats.ConnectRecord)}
}

func (s *fakeStore) AddConnect(ctx context.Context, channel string, record *stats.ConnectRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connects[channel] = append(s.connects[channel], record)
	return nil
}

func (s *fakeStore) DeleteConnect(ctx context.Context, channel string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.connects, channel)
	return nil
}

func (s *fakeStore) GetConnectStats(ctx context.Context, day string) (map[string][]*stats.ConnectRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result := make(map[string][]*stats.ConnectRecord)
	for channel, records := range s.connects {
		for _, r := range records {
			if stats.Day(r.ConnectTime) == day {
				result[channel] = append(result[channel], r)
			}
		}
	}
	return result, nil
}

func (s *fakeStore) AddPubMessage(ctx context.Context, record *stats.LogRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.pubErr != nil {
		return s.pubErr
	}
	s.pub = append(s.pub, record)
	return nil
}

func (s *fakeStore) AddSubMessage(ctx context.Context, record *stats.LogRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.subErr != nil {
		return s.subErr
	}
	s.sub = append(s.sub, record)
	return nil
}

func (s *fakeStore) GetPubMessages(ctx context.Context, day string, start, end int64) ([]*stats.LogRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*stats.LogRecord(nil), s.pub...), nil
}

func (s *fakeStore) GetSubMessages(ctx context.Context, day string, start, end int64) ([]*stats.LogRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*stats.LogRecord(nil), s.sub...), nil
}

func (s *fakeStore) GetSwitch(ctx context.Context) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.open == nil {
		return true, nil
	}
	return *s.open, nil
}

func (s *fakeStore) SetSwitch(ctx context.Context, open bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.open = &open
	return nil
}

func (s *fakeStore) subCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.sub)
}

// countingRegistry 统计 AddMessage 调用
type countingRegistry struct {
	*ConnectionRegistry
	mutex    sync.Mutex
	forwards []*Message
}

func (r *countingRegistry) AddMessage(channel string, msg *Message) int {
	r.mutex.Lock()
	r.forwards = append(r.forwards, msg)
	r.mutex.Unlock()
	return r.ConnectionRegistry.AddMessage(channel, msg)
}

func (r *countingRegistry) forwardCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.forwards)
}

// wireFrame 构造一条数据帧
func wireFrame(channel string, event EventType, data interface{}) *Frame {
	payload, err := json.Marshal(map[string]interface{}{
		"channel": channel,
		"event":   string(event),
		"data":    data,
	})
	if err != nil {
		panic(err)
	}
	return &Frame{Kind: FrameMessage, Channel: channel, Data: string(payload)}
}

var errBoom = errors.New("boom")
