package sse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bridgeFixture struct {
	broker   *fakeBroker
	store    *fakeStore
	registry *countingRegistry
	bridge   *PubSubBridge
}

func newBridgeFixture(t *testing.T, regConfig *RegistryConfig, config *BridgeConfig) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		broker:   newFakeBroker(),
		store:    newFakeStore(),
		registry: &countingRegistry{ConnectionRegistry: newTestRegistry(regConfig)},
	}
	f.bridge = NewPubSubBridge(f.broker, f.registry, f.store, config, zerolog.Nop())
	return f
}

// drain 执行 Step 直到broker中没有待处理的帧
func (f *bridgeFixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; f.broker.pending() > 0; i++ {
		require.Less(t, i, 1000, "broker never drained")
		require.NoError(t, f.bridge.Step(context.Background()))
	}
}

func TestSubscribeChannel(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	ctx := context.Background()

	conn, err := f.bridge.SubscribeChannel(ctx, "room1", map[string]interface{}{"user": "u1"})
	require.NoError(t, err)

	assert.True(t, f.broker.isSubscribed("room1"))
	assert.Equal(t, 1, f.registry.ChannelCount("room1"))

	records := f.store.connects["room1"]
	require.Len(t, records, 1)
	assert.Equal(t, "node-test", records[0].LocalNodeID)
	assert.Equal(t, "u1", records[0].Extra["user"])

	// CONNECT 事件经过broker回流并转发给本地连接
	require.Len(t, f.store.pub, 1)
	assert.Equal(t, "CONNECT", f.store.pub[0].Message["event"])

	f.drain(t)
	msg := <-conn.Messages()
	assert.Equal(t, EventConnect, msg.Event())

	data, ok := msg.Data().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, conn.ID(), data["conn_id"])
	assert.Equal(t, "node-test", data["node_id"])
}

func TestSubscribeChannelEmpty(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	_, err := f.bridge.SubscribeChannel(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyChannel)
}

func TestSubscribeChannelBrokerFailure(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	f.broker.subscribeFn = func(string) error { return errBoom }

	_, err := f.bridge.SubscribeChannel(context.Background(), "room1", nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, f.registry.Count())
}

func TestSubscribeChannelRollsBackWhenRegistryRefuses(t *testing.T) {
	f := newBridgeFixture(t, &RegistryConfig{MaxConnections: 1, BufferSize: 8}, nil)
	ctx := context.Background()

	_, err := f.bridge.SubscribeChannel(ctx, "busy", nil)
	require.NoError(t, err)

	before, err := f.broker.Publish(ctx, "full", "x")
	require.NoError(t, err)

	_, err = f.bridge.SubscribeChannel(ctx, "full", nil)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.False(t, f.broker.isSubscribed("full"))

	after, err := f.broker.Publish(ctx, "full", "x")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.store.connects["full"])
}

func TestSubscribeChannelRollbackKeepsSharedSubscription(t *testing.T) {
	f := newBridgeFixture(t, &RegistryConfig{MaxConnectionsPerChannel: 1, BufferSize: 8}, nil)
	ctx := context.Background()

	_, err := f.bridge.SubscribeChannel(ctx, "room1", nil)
	require.NoError(t, err)

	_, err = f.bridge.SubscribeChannel(ctx, "room1", nil)
	assert.ErrorIs(t, err, ErrChannelCapacityExceeded)

	// 第一个连接仍然需要这个订阅
	assert.True(t, f.broker.isSubscribed("room1"))
}

func TestSubscribeChannelRollsBackOnStatsFailure(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	f.store.connectErr = errBoom

	_, err := f.bridge.SubscribeChannel(context.Background(), "room1", nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, f.registry.Count())
	assert.False(t, f.broker.isSubscribed("room1"))
}

func TestSubscribeChannelRollsBackOnAnnounceFailure(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	f.broker.publishErr = errBoom

	_, err := f.bridge.SubscribeChannel(context.Background(), "room1", nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, f.registry.Count())
	assert.False(t, f.broker.isSubscribed("room1"))
}

func TestReleaseConnection(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	ctx := context.Background()

	a, err := f.bridge.SubscribeChannel(ctx, "room1", nil)
	require.NoError(t, err)
	b, err := f.bridge.SubscribeChannel(ctx, "room1", nil)
	require.NoError(t, err)

	require.NoError(t, f.bridge.ReleaseConnection(ctx, a))
	assert.True(t, f.broker.isSubscribed("room1"))
	assert.NotEmpty(t, f.store.connects["room1"])

	require.NoError(t, f.bridge.ReleaseConnection(ctx, b))
	assert.False(t, f.broker.isSubscribed("room1"))
	assert.Empty(t, f.store.connects["room1"])

	assert.NoError(t, f.bridge.ReleaseConnection(ctx, nil))
}

func TestPublishMessageAccounting(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.bridge.SubscribeChannel(ctx, "room1", nil)
	require.NoError(t, err)
	f.store.pub = nil

	const n = 5
	counts := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		channel := "room1"
		if i%2 == 1 {
			channel = "nobody"
		}
		count, err := f.bridge.PublishMessage(ctx, channel, map[string]interface{}{"i": i})
		require.NoError(t, err)
		counts = append(counts, count)
	}

	assert.Equal(t, []int64{1, 0, 1, 0, 1}, counts)
	require.Len(t, f.store.pub, n)
	for i, record := range f.store.pub {
		require.NotNil(t, record.PushCount)
		assert.Equal(t, counts[i], *record.PushCount)
		assert.Equal(t, "node-test", record.LocalNodeID)
		assert.NotEmpty(t, record.Message["id"])
		assert.Equal(t, 3000, record.Message["retry"])
	}
}

func TestPublishMessageKeepsExplicitOptions(t *testing.T) {
	f := newBridgeFixture(t, nil, &BridgeConfig{ListenInterval: time.Millisecond, HeartbeatInterval: time.Hour, MessageRetry: 500})

	_, err := f.bridge.PublishMessage(context.Background(), "c", "x", WithID("fixed"), WithEvent("chat"))
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(f.broker.published[0]), &wire))
	assert.Equal(t, "fixed", wire["id"])
	assert.Equal(t, "chat", wire["event"])
	assert.EqualValues(t, 500, wire["retry"])
}

func TestPublishMessageErrors(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.bridge.PublishMessage(ctx, "", "x")
	assert.ErrorIs(t, err, ErrEmptyChannel)

	f.broker.publishErr = errBoom
	_, err = f.bridge.PublishMessage(ctx, "c", "x")
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.store.pub)
}

func TestPublishSSEMessageForcesRetry(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)

	msg := mustMessage(t, "c", "x", WithEvent("chat"), WithID("9"), WithRetry(1))
	_, err := f.bridge.PublishSSEMessage(context.Background(), msg)
	require.NoError(t, err)

	record := f.store.pub[0]
	assert.Equal(t, 3000, record.Message["retry"])
	assert.Equal(t, "9", record.Message["id"])
	assert.Equal(t, "chat", record.Message["event"])

	_, err = f.bridge.PublishSSEMessage(context.Background(), nil)
	assert.Error(t, err)
}

func TestStepCachesAndForwards(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	conn, err := f.registry.Connect("room1")
	require.NoError(t, err)

	frames := []*Frame{
		{Kind: FrameSubscribe, Channel: "room1"},
		{Kind: FrameMessage, Channel: "room1", Data: "garbage"},
		wireFrame("room1", EventError, 1),
		wireFrame("room1", EventRedis, 1),
		wireFrame("room1", EventHeartbeat, 1),
		wireFrame("room1", EventConnect, 1),
		wireFrame("room1", "chat", 1),
		wireFrame("room1", EventMessage, 1),
	}
	for _, frame := range frames {
		f.broker.push(frame)
	}
	f.drain(t)

	// 只有 CONNECT、chat、message 被记录
	require.Equal(t, 3, f.store.subCount())
	for _, record := range f.store.sub {
		assert.NotContains(t, []interface{}{"ERROR", "REDIS", "HEARTBEAT"}, record.Message["event"])
		assert.Nil(t, record.PushCount)
	}

	// HEARTBEAT 也会转发
	assert.Equal(t, 4, f.registry.forwardCount())
	assert.Equal(t, 4, conn.Pending())

	s := f.bridge.Stats()
	assert.Equal(t, int64(1), s.ControlFrames)
	assert.Equal(t, int64(1), s.ErrorFrames)
	assert.Equal(t, int64(3), s.MessagesReceived)
	assert.Equal(t, int64(4), s.MessagesForwarded)
	assert.NotNil(t, s.LastFrameTime)
}

func TestStepIdle(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	require.NoError(t, f.bridge.Step(context.Background()))
	assert.Equal(t, 0, f.store.subCount())
	assert.Nil(t, f.bridge.Stats().LastFrameTime)
}

func TestStepFatalErrors(t *testing.T) {
	t.Run("poll failure", func(t *testing.T) {
		f := newBridgeFixture(t, nil, nil)
		f.broker.pollErr = errBoom
		assert.ErrorIs(t, f.bridge.Step(context.Background()), errBoom)
	})

	t.Run("stats failure", func(t *testing.T) {
		f := newBridgeFixture(t, nil, nil)
		f.store.subErr = errBoom
		f.broker.push(wireFrame("room1", "chat", 1))
		assert.ErrorIs(t, f.bridge.Step(context.Background()), errBoom)
	})
}

func TestStepHeartbeatPeriodicity(t *testing.T) {
	const interval = 10 * time.Second
	f := newBridgeFixture(t, nil, &BridgeConfig{ListenInterval: time.Second, HeartbeatInterval: interval})
	conn, err := f.registry.Connect("room1")
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mutex sync.Mutex
	f.bridge.setClock(func() time.Time {
		mutex.Lock()
		defer mutex.Unlock()
		return now
	})

	const window = 95 * time.Second
	for elapsed := time.Duration(0); elapsed < window; elapsed += time.Second {
		mutex.Lock()
		now = now.Add(time.Second)
		mutex.Unlock()
		require.NoError(t, f.bridge.Step(context.Background()))
	}

	beats := f.bridge.Stats().Heartbeats
	expected := int64(window / interval)
	assert.InDelta(t, expected, beats, 1)
	assert.Equal(t, int(beats), conn.Pending())
	assert.Equal(t, 0, f.store.subCount())
}

func TestListenStopsWithRegistry(t *testing.T) {
	f := newBridgeFixture(t, nil, &BridgeConfig{ListenInterval: time.Millisecond, HeartbeatInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- f.bridge.Listen(context.Background()) }()

	f.broker.push(wireFrame("room1", "chat", 1))
	require.Eventually(t, func() bool { return f.store.subCount() == 1 }, time.Second, time.Millisecond)

	f.registry.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not exit after registry stopped")
	}
}

func TestListenStopsWithContext(t *testing.T) {
	f := newBridgeFixture(t, nil, &BridgeConfig{ListenInterval: time.Millisecond, HeartbeatInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.bridge.Listen(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not exit after cancel")
	}
}

func TestListenReturnsFatalError(t *testing.T) {
	f := newBridgeFixture(t, nil, &BridgeConfig{ListenInterval: time.Millisecond, HeartbeatInterval: time.Hour})
	f.broker.pollErr = errBoom

	err := f.bridge.Listen(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestDisconnectAll(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	ctx := context.Background()

	a, err := f.bridge.SubscribeChannel(ctx, "a", nil)
	require.NoError(t, err)
	_, err = f.bridge.SubscribeChannel(ctx, "b", nil)
	require.NoError(t, err)

	require.NoError(t, f.bridge.DisconnectAll(ctx))
	assert.Equal(t, 0, f.registry.Count())
	assert.False(t, f.broker.isSubscribed("a"))
	assert.False(t, f.broker.isSubscribed("b"))
	assert.Empty(t, f.store.connects)
	assert.False(t, a.IsActive())

	assert.NoError(t, f.bridge.DisconnectAll(ctx))
}

func TestSwitch(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	ctx := context.Background()

	open, err := f.bridge.IsOpenSSESwitch(ctx)
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, f.bridge.CloseSSESwitch(ctx))
	open, err = f.bridge.IsOpenSSESwitch(ctx)
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, f.bridge.OpenSSESwitch(ctx))
	open, err = f.bridge.IsOpenSSESwitch(ctx)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestStatQueriesDelegateToStore(t *testing.T) {
	f := newBridgeFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.bridge.SubscribeChannel(ctx, "room1", nil)
	require.NoError(t, err)
	f.drain(t)

	pub, err := f.bridge.GetPubMessageStat(ctx, "2024-01-01", 0, -1)
	require.NoError(t, err)
	assert.Len(t, pub, 1)

	sub, err := f.bridge.GetSubMessageStat(ctx, "2024-01-01", 0, -1)
	require.NoError(t, err)
	assert.Len(t, sub, 1)

	connects, err := f.bridge.GetConnectStat(ctx, time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	assert.Len(t, connects["room1"], 1)
}
