package selection

import (
	"context"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// testZones lays out a, b and c as unit squares in a row, sharing edges,
// with d far away.
func testZones() []Zone {
	return []Zone{
		{ID: "a", Name: "A", Geometry: square(0, 0, 1), Properties: map[string]any{"kind": "park"}},
		{ID: "b", Name: "B", Geometry: square(1, 0, 1), Properties: map[string]any{"kind": "park"}},
		{ID: "c", Name: "C", Geometry: square(2, 0, 1), Properties: map[string]any{"kind": "lot"}},
		{ID: "d", Name: "D", Geometry: square(5, 5, 1), Properties: map[string]any{"kind": "lot"}},
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

// recorder collects callbacks from an engine.
type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
	errs   []*SelectionError
}

func (r *recorder) onChange(evt ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) onError(err *SelectionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Events() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeEvent(nil), r.events...)
}

func (r *recorder) Errors() []*SelectionError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*SelectionError(nil), r.errs...)
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	if cfg.Zones == nil {
		cfg.Zones = testZones()
	}
	cfg.OnSelectionChange = rec.onChange
	cfg.OnSelectionError = rec.onError
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, rec
}

func ids(zones []Zone) []string {
	out := make([]string, 0, len(zones))
	for _, z := range zones {
		out = append(out, z.ID)
	}
	return out
}

// memStore is an in-process Store for persistence tests. A non-nil getErr
// fails every Get.
type memStore struct {
	mu     sync.Mutex
	data   map[string][]string
	sets   int
	gets   int
	getErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]string)}
}

func (m *memStore) Get(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return append([]string(nil), m.data[key]...), nil
}

func (m *memStore) Set(_ context.Context, key string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]string(nil), ids...)
	m.sets++
	return nil
}

func (m *memStore) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}
