package vectorstore

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// Sweeper periodically expires idle vector stores and drops their index
// data. A store with an expiration policy expires once
// last_active_at + days has passed; searches and writes refresh
// last_active_at, so only idle stores age out.
type Sweeper struct {
	service *Service
	cron    *cron.Cron
}

// NewSweeper schedules the sweep on spec (cron syntax, e.g. "@every 1m").
func NewSweeper(service *Service, spec string) (*Sweeper, error) {
	s := &Sweeper{
		service: service,
		cron:    cron.New(),
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins background sweeping.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if stores, err := s.service.ListStores(ctx); err == nil {
		for _, vs := range stores {
			s.service.dropMissingBlobs(ctx, vs.ID)
		}
	}
	s.service.ExpireIdleStores(ctx, time.Now())
}

// ExpireIdleStores marks stores past their expiration as expired and
// removes their indexed data. Expired stores stay listable; their chunks
// are gone.
func (s *Service) ExpireIdleStores(ctx context.Context, now time.Time) int {
	stores, err := s.repo.ListStores(ctx)
	if err != nil {
		return 0
	}

	expired := 0
	for _, vs := range stores {
		if vs.Status == models.VectorStoreStatusExpired ||
			vs.ExpiresAfter == nil || vs.ExpiresAt == 0 || now.Unix() < vs.ExpiresAt {
			continue
		}

		if _, err := s.repo.UpdateStore(ctx, vs.ID, func(v *models.VectorStore) {
			v.Status = models.VectorStoreStatusExpired
		}); err != nil {
			continue
		}
		if err := s.index.DeleteStore(ctx, vs.ID); err != nil {
			s.logger.Warn(ctx, "expire: drop index failed", "vector_store_id", vs.ID, "error", err)
		}
		if s.lexical != nil {
			if err := s.lexical.DeleteStore(ctx, vs.ID); err != nil {
				s.logger.Warn(ctx, "expire: drop lexical index failed", "vector_store_id", vs.ID, "error", err)
			}
		}
		s.logger.Info(ctx, "vector store expired", "vector_store_id", vs.ID)
		expired++
	}
	return expired
}
