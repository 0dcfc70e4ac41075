package broadcast

import (
	"sync"

	"golang.org/x/time/rate"

	"crmbot/internal/metrics"
	"crmbot/internal/transport"
	"crmbot/pkg/logx"
)

type Config struct {
	// RatePerSec caps the outbound send rate (the external channel's own
	// limit is ~30 msg/s; we stay under it).
	RatePerSec int
}

// Result is the aggregate outcome of one delivery pass. No per-recipient
// record is retained.
type Result struct {
	Sent   int
	Errors int
	Total  int
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	adapter transport.Adapter
	log     logx.Logger
	metrics *metrics.Metrics

	limiter *rate.Limiter
}
