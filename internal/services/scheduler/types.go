package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crmbot/internal/audience"
	"crmbot/internal/metrics"
	"crmbot/internal/services/broadcast"
	"crmbot/internal/storage"
	"crmbot/internal/transport"
	"crmbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled bool

	// FastInterval and SlowInterval drive two independent, uncoordinated
	// due-check cadences. If one tick is missed or delayed, the other
	// cadence still converges on the due set within its own period.
	FastInterval time.Duration // default 15s
	SlowInterval time.Duration // default 60s

	// MaxAge is the staleness cutoff: a scheduled campaign whose fire time
	// is older than this is never delivered (default 24h).
	MaxAge time.Duration

	// CancelStale auto-cancels campaigns past the cutoff on the slow
	// cadence instead of leaving them dangling in scheduled state.
	CancelStale bool
}

// Deps are the collaborators the loop drives.
type Deps struct {
	Store    *storage.Store
	Audience *audience.Resolver
	Engine   *broadcast.Service
	Adapter  transport.Adapter // operator report target; may be nil
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

type Service struct {
	mu sync.Mutex

	cfg  Config
	deps Deps
	log  logx.Logger

	c      *cron.Cron
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// the cron runner has fully exited.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
}
