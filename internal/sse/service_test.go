package sse

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedWriter 可并发读取的 ResponseWriter
type lockedWriter struct {
	mutex  sync.Mutex
	header http.Header
	status int
	body   bytes.Buffer
}

func newLockedWriter() *lockedWriter {
	return &lockedWriter{header: http.Header{}}
}

func (w *lockedWriter) Header() http.Header { return w.header }

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

func (w *lockedWriter) WriteHeader(status int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.status = status
}

func (w *lockedWriter) Flush() {}

func (w *lockedWriter) String() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.body.String()
}

func newTestService(t *testing.T) (*Service, *bridgeFixture) {
	t.Helper()
	f := newBridgeFixture(t, nil, &BridgeConfig{
		ListenInterval:    time.Millisecond,
		HeartbeatInterval: time.Hour,
		MessageRetry:      3000,
	})
	return NewService(f.bridge, f.registry.ConnectionRegistry, zerolog.Nop()), f
}

func TestServiceHandleConnection(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	w := newLockedWriter()
	gone := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- svc.HandleConnection(ctx, "room1", map[string]interface{}{"ip": "127.0.0.1"}, w, gone) }()

	require.Eventually(t, func() bool { return f.registry.ChannelCount("room1") == 1 }, time.Second, time.Millisecond)

	_, err := svc.Bridge().PublishMessage(ctx, "room1", map[string]interface{}{"msg": "hi"}, WithEvent("chat"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		body := w.String()
		return bytes.Contains([]byte(body), []byte("event: CONNECT")) &&
			bytes.Contains([]byte(body), []byte(`data: {"msg":"hi"}`))
	}, time.Second, time.Millisecond)

	close(gone)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("HandleConnection did not return")
	}

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, 0, f.registry.Count())
	assert.False(t, f.broker.isSubscribed("room1"))
}

func TestServiceHandleConnectionRefused(t *testing.T) {
	svc, f := newTestService(t)
	f.registry.Stop()

	err := svc.HandleConnection(context.Background(), "room1", nil, newLockedWriter(), make(chan struct{}))
	assert.ErrorIs(t, err, ErrRegistryStopped)
	assert.False(t, f.broker.isSubscribed("room1"))
}

func TestServiceHandleConnectionRequiresFlusher(t *testing.T) {
	svc, f := newTestService(t)

	err := svc.HandleConnection(context.Background(), "room1", nil, &nonFlusher{header: http.Header{}}, make(chan struct{}))
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
	assert.False(t, f.broker.isSubscribed("room1"))
}

func TestServiceStartStop(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()

	assert.False(t, svc.GetStats().Listening)
	require.NoError(t, svc.Start(ctx))
	assert.ErrorIs(t, svc.Start(ctx), ErrServiceStarted)
	assert.True(t, svc.GetStats().Listening)

	_, err := f.bridge.SubscribeChannel(ctx, "room1", nil)
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))

	select {
	case <-svc.Done():
	default:
		t.Fatal("listen loop still running after Stop")
	}
	assert.NoError(t, svc.Err())
	assert.Equal(t, 0, f.registry.Count())
	assert.False(t, svc.GetStats().Listening)
	assert.False(t, svc.GetStats().Registry.Running)
}
