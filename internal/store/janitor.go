package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpiredDeleter is implemented by stores that do not expire entries on their own.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// Janitor periodically purges expired entries from a store.
type Janitor struct {
	target   ExpiredDeleter
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor starts a background purge loop that runs until Stop is called.
func NewJanitor(ctx context.Context, target ExpiredDeleter, interval time.Duration) *Janitor {
	janitorCtx, cancel := context.WithCancel(ctx)

	j := &Janitor{
		target:   target,
		interval: interval,
		ctx:      janitorCtx,
		cancel:   cancel,
	}

	j.wg.Add(1)
	go j.loop()

	return j
}

// Stop stops the purge loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			log.Debug().Msg("Janitor stopped")
			return

		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	n, err := j.target.DeleteExpired(j.ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete expired entries")
		return
	}
	if n > 0 {
		log.Debug().Int("deleted", n).Msg("Deleted expired entries")
	}
}
