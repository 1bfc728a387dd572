package service

import (
	"time"

	"github.com/okian/prefstudy/internal/adapters/repository"
	"github.com/okian/prefstudy/internal/domain/sampler"
	"github.com/okian/prefstudy/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the durable rating store. The service wraps it with
// retries and closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.rawStore = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBatchSize sets how many images a round shows.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 1 {
			s.batchSize = n
		}
	}
}

// WithRoundLimit sets how many decisions finish a session.
func WithRoundLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.roundLimit = n
		}
	}
}

// WithKFactor sets K for both rating tracks.
func WithKFactor(k float64) Option {
	return func(s *Service) {
		if k > 0 {
			s.kFactor = k
		}
	}
}

// WithSyncMode sets when decisions reach the durable store.
func WithSyncMode(mode SyncMode) Option {
	return func(s *Service) { s.syncMode = mode }
}

// WithWorkerCount sets the number of durable write workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the per-worker queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many accepted rounds are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithCatalogTTL sets how long the item list is cached.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.catalogTTL = ttl
		}
	}
}

// WithRetry sets the retry policy around store calls.
func WithRetry(cfg repository.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithDrainTimeout bounds how long a finishing session waits for its
// in-flight writes before reconciling.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithSampler sets the batch sampler shared by all sessions.
func WithSampler(sm *sampler.Sampler) Option {
	return func(s *Service) {
		if sm != nil {
			s.sampler = sm
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}
