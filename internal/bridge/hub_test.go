package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raumlabs/hostbridge/internal/update"
)

type countingObserver struct {
	mu       sync.Mutex
	invokes  map[string]int
	failures int
	dropped  int
}

func (o *countingObserver) ObserveInvoke(channel string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.invokes == nil {
		o.invokes = map[string]int{}
	}
	o.invokes[channel]++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) ObserveDropped(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	return NewHub(zaptest.NewLogger(t).Sugar(), opts...)
}

func TestHub_Invoke(t *testing.T) {
	obs := &countingObserver{}
	h := newTestHub(t, WithObserver(obs))
	h.Handle("echo", func(_ context.Context, payload json.RawMessage) (interface{}, error) {
		return string(payload), nil
	})
	h.Handle("boom", func(context.Context, json.RawMessage) (interface{}, error) {
		panic("handler bug")
	})

	res, err := h.Invoke(context.Background(), "echo", json.RawMessage(`"hi"`))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, res)

	_, err = h.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNoHandler)

	_, err = h.Invoke(context.Background(), "boom", nil)
	assert.ErrorContains(t, err, "handler for boom failed")

	assert.Equal(t, []string{"boom", "echo"}, h.Channels())
	assert.Equal(t, 1, obs.invokes["echo"])
	assert.Equal(t, 1, obs.failures)
}

func TestHub_OnMessageAndRemove(t *testing.T) {
	h := newTestHub(t)
	var got []string
	remove := h.OnMessage("command", func(viewID string, payload json.RawMessage) {
		got = append(got, viewID+":"+string(payload))
	})

	assert.Equal(t, 1, h.Post("v1", "command", json.RawMessage(`"run_update"`)))
	remove()
	assert.Equal(t, 0, h.Post("v1", "command", json.RawMessage(`"app_exit"`)))
	assert.Equal(t, []string{`v1:"run_update"`}, got)
}

func TestHub_SendAndBroadcast(t *testing.T) {
	h := newTestHub(t)
	v1, err := h.Attach("v1")
	require.NoError(t, err)
	v2, err := h.Attach("v2")
	require.NoError(t, err)

	_, err = h.Attach("v1")
	assert.ErrorIs(t, err, ErrViewExists)

	require.NoError(t, h.Send("v1", "event", "only-v1"))
	assert.ErrorIs(t, h.Send("nope", "event", 1), ErrUnknownView)
	assert.Equal(t, 2, h.Broadcast("event", "all"))

	assert.Equal(t, Message{Channel: "event", Payload: "only-v1"}, <-v1.Messages())
	assert.Equal(t, "all", (<-v1.Messages()).Payload)
	assert.Equal(t, "all", (<-v2.Messages()).Payload)

	h.Detach("v1")
	_, open := <-v1.Messages()
	assert.False(t, open)
	assert.Equal(t, []string{"v2"}, h.Views())
	h.Detach("v1")
}

func TestHub_FullOutboxDrops(t *testing.T) {
	obs := &countingObserver{}
	h := newTestHub(t, WithOutboxSize(2), WithObserver(obs))
	v, err := h.Attach("slow")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = h.Send("slow", "event", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full outbox")
	}
	assert.Len(t, v.Messages(), 2)
	assert.Equal(t, 3, obs.dropped)
}

type memStore map[string]json.RawMessage

func (m memStore) GetGlobal(key string) (json.RawMessage, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}
func (m memStore) SetGlobal(key string, value json.RawMessage) error { m[key] = value; return nil }
func (m memStore) DeleteGlobal(key string) error                     { delete(m, key); return nil }
func (m memStore) ListGlobals() (map[string]json.RawMessage, error)  { return m, nil }

func TestRegisterGlobal(t *testing.T) {
	h := newTestHub(t)
	store := memStore{}
	RegisterGlobal(h, store)
	ctx := context.Background()

	_, err := h.Invoke(ctx, ChannelGlobal, json.RawMessage(`{"op":"set","key":"theme","value":"dark"}`))
	require.NoError(t, err)

	res, err := h.Invoke(ctx, ChannelGlobal, json.RawMessage(`{"op":"get","key":"theme"}`))
	require.NoError(t, err)
	assert.Equal(t, GlobalResponse{Key: "theme", Found: true, Value: json.RawMessage(`"dark"`)}, res)

	res, err = h.Invoke(ctx, ChannelGlobal, json.RawMessage(`{"op":"list"}`))
	require.NoError(t, err)
	assert.Len(t, res, 1)

	_, err = h.Invoke(ctx, ChannelGlobal, json.RawMessage(`{"op":"delete","key":"theme"}`))
	require.NoError(t, err)
	res, err = h.Invoke(ctx, ChannelGlobal, json.RawMessage(`{"op":"get","key":"theme"}`))
	require.NoError(t, err)
	assert.False(t, res.(GlobalResponse).Found)

	for _, bad := range []string{`{"op":"get"}`, `{"op":"set","key":"k"}`, `{"op":"rename","key":"k"}`, `nope`} {
		_, err := h.Invoke(ctx, ChannelGlobal, json.RawMessage(bad))
		assert.Error(t, err, bad)
	}
}

type fixedStatus struct {
	state   update.State
	session *update.Session
}

func (f fixedStatus) State() update.State { return f.state }
func (f fixedStatus) Session() (update.Session, bool) {
	if f.session == nil {
		return update.Session{}, false
	}
	return *f.session, true
}

type historyFunc func(ctx context.Context, limit int) ([]update.Outcome, error)

func (f historyFunc) ListOutcomes(ctx context.Context, limit int) ([]update.Outcome, error) {
	return f(ctx, limit)
}

func TestRegisterUpdate(t *testing.T) {
	h := newTestHub(t)
	var gotLimit int
	RegisterUpdate(h, fixedStatus{state: update.StateFound, session: &update.Session{ID: "01ABC"}},
		historyFunc(func(_ context.Context, limit int) ([]update.Outcome, error) {
			gotLimit = limit
			return nil, errors.New("db closed")
		}))
	ctx := context.Background()

	res, err := h.Invoke(ctx, ChannelUpdate, nil)
	require.NoError(t, err)
	status := res.(StatusResponse)
	assert.Equal(t, update.StateFound, status.State)
	assert.Equal(t, "found", status.StateName)
	require.NotNil(t, status.Session)
	assert.Equal(t, "01ABC", status.Session.ID)

	_, err = h.Invoke(ctx, ChannelUpdate, json.RawMessage(`{"op":"history"}`))
	assert.ErrorContains(t, err, "db closed")
	assert.Equal(t, 20, gotLimit)

	_, err = h.Invoke(ctx, ChannelUpdate, json.RawMessage(`{"op":"install"}`))
	assert.Error(t, err)
}
