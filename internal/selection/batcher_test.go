package selection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEvents(t *testing.T) {
	merged := mergeEvents([]ChangeEvent{
		{Added: []Zone{zone("a")}, Current: []Zone{zone("a")}, Source: SourceClick},
		{Removed: []Zone{zone("a")}, Current: []Zone{}, Source: SourceKeyboard},
		{Added: []Zone{zone("b"), zone("c")}, Current: []Zone{zone("b"), zone("c")}, Source: SourceAPI},
	})

	assert.Equal(t, []string{"a", "b", "c"}, ids(merged.Added))
	assert.Equal(t, []string{"a"}, ids(merged.Removed))
	assert.Equal(t, []string{"b", "c"}, ids(merged.Current))
	assert.Equal(t, SourceAPI, merged.Source)
}

func TestBatcher_CoalescesWithinWindow(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []ChangeEvent
	)
	b := newBatcher(50*time.Millisecond, func(evt ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, evt)
	})
	defer b.stop()

	for _, id := range []string{"a", "b", "c"} {
		b.enqueue(ChangeEvent{Added: []Zone{zone(id)}, Source: SourceClick})
	}
	assert.Equal(t, 3, b.pendingCount())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, []string{"a", "b", "c"}, ids(delivered[0].Added))
	assert.Equal(t, 0, b.pendingCount())
}

func TestBatcher_StopCancelsPending(t *testing.T) {
	fired := make(chan ChangeEvent, 1)
	b := newBatcher(20*time.Millisecond, func(evt ChangeEvent) { fired <- evt })

	b.enqueue(ChangeEvent{Added: []Zone{zone("a")}})
	b.stop()
	b.enqueue(ChangeEvent{Added: []Zone{zone("b")}})

	select {
	case <-fired:
		t.Fatal("stopped batcher delivered an event")
	case <-time.After(80 * time.Millisecond):
	}
	assert.Equal(t, 0, b.pendingCount())
}

func TestBatcher_StaleTimerIgnored(t *testing.T) {
	calls := 0
	b := newBatcher(time.Hour, func(ChangeEvent) { calls++ })
	defer b.stop()

	b.enqueue(ChangeEvent{Added: []Zone{zone("a")}})
	b.enqueue(ChangeEvent{Added: []Zone{zone("b")}})
	b.fire(1)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 2, b.pendingCount())

	b.fire(2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.pendingCount())
}
