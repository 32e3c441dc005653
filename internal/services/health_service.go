package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"rustler/internal/models"
)

// Health check targets.
const (
	HealthAll      = "all"
	HealthBlob     = "blob"
	HealthMetadata = "metadata"
	HealthQueue    = "queue"
)

// Component status values.
const (
	HealthOK   = "ok"
	HealthFail = "fail"
)

var healthAliases = map[string]string{
	"":         HealthAll,
	"s3":       HealthBlob,
	"postgres": HealthMetadata,
	"database": HealthMetadata,
	"redis":    HealthQueue,
}

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ComponentHealth is the result for one dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthReport is the result of one check.
type HealthReport struct {
	Target     string                     `json:"target"`
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Cached     bool                       `json:"cached"`
}

// Healthy reports whether every component is ok.
func (r *HealthReport) Healthy() bool { return r.Status == HealthOK }

// HealthServiceDeps wires the health service. Cache may be nil.
type HealthServiceDeps struct {
	Blob     Pinger
	Metadata Pinger
	Queue    Pinger
	Cache    redis.UniversalClient
	CacheTTL time.Duration
	Timeout  time.Duration
	Now      func() time.Time
}

// HealthService checks the pipeline's dependencies. Healthy reports are
// cached in Redis for CacheTTL so probes do not hammer the backends.
type HealthService struct {
	checks   map[string]Pinger
	cache    redis.UniversalClient
	cacheTTL time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewHealthService(deps HealthServiceDeps) *HealthService {
	if deps.Timeout <= 0 {
		deps.Timeout = 3 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &HealthService{
		checks: map[string]Pinger{
			HealthBlob:     deps.Blob,
			HealthMetadata: deps.Metadata,
			HealthQueue:    deps.Queue,
		},
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		timeout:  deps.Timeout,
		now:      deps.Now,
	}
}

// NormalizeHealthTarget resolves aliases (s3, postgres, redis) and reports
// whether target is known.
func NormalizeHealthTarget(target string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(target))
	if alias, ok := healthAliases[t]; ok {
		t = alias
	}
	switch t {
	case HealthAll, HealthBlob, HealthMetadata, HealthQueue:
		return t, true
	}
	return "", false
}

// Check runs the checks for target. An unknown target is a validation error;
// unhealthy components are reported in the HealthReport, not as an error.
func (s *HealthService) Check(ctx context.Context, target string) (*HealthReport, error) {
	t, ok := NormalizeHealthTarget(target)
	if !ok {
		return nil, fmt.Errorf("%w: unknown health target %q", models.ErrValidation, target)
	}

	if cached := s.cached(ctx, t); cached != nil {
		return cached, nil
	}

	names := []string{t}
	if t == HealthAll {
		names = []string{HealthBlob, HealthMetadata, HealthQueue}
	}

	report := &HealthReport{
		Target:     t,
		Status:     HealthOK,
		Components: make(map[string]ComponentHealth, len(names)),
		CheckedAt:  s.now().UTC(),
	}
	for _, name := range names {
		c := s.checkOne(ctx, name)
		if c.Status != HealthOK {
			report.Status = HealthFail
		}
		report.Components[name] = c
	}

	if report.Healthy() {
		s.store(ctx, report)
	}
	return report, nil
}

func (s *HealthService) checkOne(ctx context.Context, name string) ComponentHealth {
	p := s.checks[name]
	if p == nil {
		return ComponentHealth{Status: HealthFail, Message: name + " is not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return ComponentHealth{Status: HealthFail, Message: fmt.Sprintf("%s health check failed: %v", name, err)}
	}
	return ComponentHealth{Status: HealthOK, Message: name + " is healthy"}
}

func cacheKey(target string) string {
	return "rustler:health:" + target
}

func (s *HealthService) cached(ctx context.Context, target string) *HealthReport {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil
	}
	raw, err := s.cache.Get(ctx, cacheKey(target)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Debug("Health cache read failed")
		}
		return nil
	}
	var report HealthReport
	if err := json.Unmarshal(raw, &report); err != nil {
		log.WithError(err).Warn("Discarding malformed health cache entry")
		return nil
	}
	report.Cached = true
	return &report
}

func (s *HealthService) store(ctx context.Context, report *HealthReport) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(report.Target), raw, s.cacheTTL).Err(); err != nil {
		log.WithError(err).Warn("Failed to cache health report")
	}
}
