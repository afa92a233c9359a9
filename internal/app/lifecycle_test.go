package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func isDone(l *Lifecycle) bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}

func TestLifecycle_QuitsWhenLastWindowCloses(t *testing.T) {
	l := New(zap.NewNop().Sugar())
	l.WindowOpened("a")
	l.WindowOpened("b")

	l.WindowClosed("a")
	assert.False(t, isDone(l))
	assert.Equal(t, 1, l.WindowCount())

	l.WindowClosed("b")
	assert.True(t, isDone(l))
}

func TestLifecycle_GuardSuppressesQuit(t *testing.T) {
	l := New(nil)
	release := l.PreventQuitOnAllWindowsClosed()
	assert.True(t, l.Guarded())

	l.WindowOpened("update")
	l.WindowClosed("update")
	assert.False(t, isDone(l), "guard keeps the process alive")

	release()
	release()
	assert.False(t, l.Guarded())
	assert.False(t, isDone(l), "releasing the guard does not quit on its own")

	l.WindowOpened("main")
	l.WindowClosed("main")
	assert.True(t, isDone(l))
}

func TestLifecycle_UnknownWindowIgnored(t *testing.T) {
	l := New(nil)
	l.WindowClosed("never-opened")
	assert.False(t, isDone(l))
}

func TestLifecycle_QuitHooksRunOnceInReverseOrder(t *testing.T) {
	l := New(nil)
	var order []int
	l.OnQuit(func() { order = append(order, 1) })
	l.OnQuit(func() { order = append(order, 2) })

	l.Quit()
	l.Quit()
	assert.Equal(t, []int{2, 1}, order)
	require.NoError(t, l.Wait(context.Background()))
}

func TestLifecycle_WaitHonorsContext(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
