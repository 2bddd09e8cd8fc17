package selection

import (
	"context"
	"time"

	"github.com/earthring/zoneselect/internal/telemetry"
	"github.com/rs/zerolog"
)

// Store persists the ordered list of selected zone ids under a key.
// A missing key is reported as nil ids and a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]string, error)
	Set(ctx context.Context, key string, ids []string) error
}

const persistTimeout = 5 * time.Second

// persister writes selection order in the background. Only the most recent
// order matters, so the queue holds one slot and newer orders replace
// whatever has not been written yet.
type persister struct {
	store  Store
	key    string
	log    zerolog.Logger
	latest chan []string
	done   chan struct{}
}

func newPersister(store Store, key string, log zerolog.Logger) *persister {
	p := &persister{
		store:  store,
		key:    key,
		log:    log,
		latest: make(chan []string, 1),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// save must not be called concurrently or after close; the engine lock
// guarantees both.
func (p *persister) save(ids []string) {
	for {
		select {
		case p.latest <- ids:
			return
		default:
		}
		select {
		case <-p.latest:
		default:
		}
	}
}

func (p *persister) run() {
	defer close(p.done)
	for ids := range p.latest {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := p.store.Set(ctx, p.key, ids)
		cancel()
		if err != nil {
			telemetry.StoreErrors.WithLabelValues("set").Inc()
			p.log.Warn().Err(err).Str("key", p.key).Msg("failed to persist selection")
			continue
		}
		p.log.Debug().Str("key", p.key).Int("count", len(ids)).Msg("persisted selection")
	}
}

// close flushes the pending write and waits for the worker to exit.
func (p *persister) close() {
	close(p.latest)
	<-p.done
}

func loadPersisted(ctx context.Context, store Store, key string, log zerolog.Logger) []string {
	ids, err := store.Get(ctx, key)
	if err != nil {
		telemetry.StoreErrors.WithLabelValues("get").Inc()
		log.Warn().Err(err).Str("key", key).Msg("failed to load persisted selection")
		return nil
	}
	return ids
}
