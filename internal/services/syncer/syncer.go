package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/integrations/ownerapi"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const (
	DefaultWorkers   = 5
	DefaultRunBudget = 15 * time.Minute

	runCompletedKey = "run"
)

// ErrRunAborted wraps whatever made the pass stop early (credentials rejected).
var ErrRunAborted = errors.New("sync run aborted")

type OwnerAPI interface {
	ListPending(ctx context.Context) ([]models.ShipmentRef, error)
	PushUpdate(ctx context.Context, upd models.ShipmentUpdate) error
}

type Parser interface {
	Parse(page carrier.RawPage) ([]models.TrackingEvent, error)
}

type Builder interface {
	Build(ref models.ShipmentRef, events []models.TrackingEvent, extractedAt time.Time) models.ShipmentUpdate
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type Recorder interface {
	ObserveShipment(res models.ShipmentResult)
	ObserveFetch(d time.Duration, err error)
	ObserveRun(r *models.RunReport, err error)
}

type ReportStore interface {
	SaveReport(ctx context.Context, r *models.RunReport) error
}

type Topics struct {
	ShipmentSynced string
	RunCompleted   string
}

type Syncer struct {
	api     OwnerAPI
	carrier carrier.Client
	parser  Parser
	builder Builder

	producer Producer
	topics   Topics
	rl       RateLimiter
	metrics  Recorder
	store    ReportStore

	workers            int
	runBudget          time.Duration
	retry              RetryPolicy
	rateLimitPerMinute int64
	throttlePause      time.Duration

	now func() time.Time

	startedAtUnixNano int64
	lastRunUnixNano   atomic.Int64
	totalRuns         atomic.Int64
	totalAttempted    atomic.Int64
	totalSucceeded    atomic.Int64
	totalSkipped      atomic.Int64
	totalFailed       atomic.Int64
	inFlight          atomic.Int64
	running           atomic.Bool
	mu                sync.Mutex
	lastError         string
	lastReport        *models.RunReport
}

func New(api OwnerAPI, carrierClient carrier.Client, parser Parser, builder Builder) *Syncer {
	return &Syncer{
		api:               api,
		carrier:           carrierClient,
		parser:            parser,
		builder:           builder,
		workers:           DefaultWorkers,
		runBudget:         DefaultRunBudget,
		retry:             DefaultRetryPolicy(),
		throttlePause:     500 * time.Millisecond,
		now:               func() time.Time { return time.Now().UTC() },
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Syncer) WithSettings(workers int, runBudget time.Duration) *Syncer {
	if workers > 0 {
		s.workers = workers
	}
	if runBudget > 0 {
		s.runBudget = runBudget
	}
	return s
}

func (s *Syncer) WithRetryPolicy(p RetryPolicy) *Syncer {
	s.retry = p.withDefaults()
	return s
}

func (s *Syncer) WithRateLimiter(rl RateLimiter, perMinute int64) *Syncer {
	s.rl = rl
	s.rateLimitPerMinute = perMinute
	return s
}

func (s *Syncer) WithProducer(p Producer, topics Topics) *Syncer {
	s.producer = p
	s.topics = topics
	return s
}

func (s *Syncer) WithMetrics(m Recorder) *Syncer {
	s.metrics = m
	return s
}

func (s *Syncer) WithReportStore(st ReportStore) *Syncer {
	s.store = st
	return s
}

// RunOnce performs one full pass. A listing failure returns an empty report
// and the error; rejected credentials return the report so far and an error
// wrapping ErrRunAborted. Per-shipment failures never fail the pass.
func (s *Syncer) RunOnce(ctx context.Context) (*models.RunReport, error) {
	s.running.Store(true)
	defer s.running.Store(false)

	report := models.NewRunReport(s.now())
	s.lastRunUnixNano.Store(report.StartedAt.UnixNano())
	s.totalRuns.Add(1)

	refs, err := s.api.ListPending(ctx)
	if err != nil {
		err = errors.Wrap(err, "list pending shipments")
		if errors.Is(err, ownerapi.ErrAuth) {
			err = abort(err)
		}
		slog.Error("sync run failed", "error", err.Error())
		return s.finish(ctx, report, err), err
	}
	report.Pending = len(refs)
	slog.Info("sync run started", "pending", len(refs), "workers", s.workers, "budget", s.runBudget.String())

	var fatal error
	started := s.dispatch(ctx, refs, func(res models.ShipmentResult) bool {
		report.Add(res)
		s.record(res)
		if res.Kind == models.ErrorKindAuth && fatal == nil {
			fatal = abort(errors.Wrapf(ownerapi.ErrAuth, "push update for %s", res.Shipment))
			return false
		}
		return true
	})

	report.NotStarted = len(refs) - started
	report.Partial = report.NotStarted > 0
	if report.Partial && fatal == nil {
		slog.Warn("run budget exhausted", "not_started", report.NotStarted)
	}
	return s.finish(ctx, report, fatal), fatal
}

// dispatch feeds refs to the worker pool and hands every result to collect on
// the calling goroutine. collect returning false stops further dispatch.
// It returns how many shipments were handed to workers.
func (s *Syncer) dispatch(ctx context.Context, refs []models.ShipmentRef, collect func(models.ShipmentResult) bool) int {
	var budget <-chan time.Time
	if s.runBudget > 0 {
		t := time.NewTimer(s.runBudget)
		defer t.Stop()
		budget = t.C
	}

	jobs := make(chan models.ShipmentRef)
	results := make(chan models.ShipmentResult, s.workers)
	stop := make(chan struct{})
	dispatched := make(chan int, 1)

	go func() {
		n := 0
		defer close(jobs)
		defer func() { dispatched <- n }()
		for _, ref := range refs {
			// бюджет проверяем до select, иначе готовый воркер может выиграть гонку
			select {
			case <-budget:
				return
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			select {
			case jobs <- ref:
				n++
			case <-budget:
				return
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				results <- s.processOne(ctx, ref)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	stopped := false
	for res := range results {
		if !collect(res) && !stopped {
			stopped = true
			close(stop)
		}
	}
	return <-dispatched
}

func (s *Syncer) processOne(ctx context.Context, ref models.ShipmentRef) models.ShipmentResult {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	res := models.ShipmentResult{Shipment: ref}

	page, err := s.fetch(ctx, ref)
	if err != nil {
		return failed(res, err)
	}

	events, err := s.parser.Parse(page)
	if err != nil {
		return failed(res, err)
	}

	upd := s.builder.Build(ref, events, page.FetchedAt)
	if err := s.push(ctx, upd); err != nil {
		return failed(res, err)
	}

	res.Outcome = models.OutcomeSuccess
	res.Events = len(upd.Events)
	slog.Info("shipment synced", "shipment", ref.String(), "events", len(upd.Events), "status", upd.CurrentStatus)
	s.publishSynced(ctx, upd)
	return res
}

func (s *Syncer) fetch(ctx context.Context, ref models.ShipmentRef) (carrier.RawPage, error) {
	var page carrier.RawPage
	op := func() error {
		s.throttle(ctx)
		start := time.Now()
		p, err := s.carrier.Fetch(ctx, ref)
		if s.metrics != nil {
			s.metrics.ObserveFetch(time.Since(start), err)
		}
		if err != nil {
			if retryableCarrier(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		page = p
		return nil
	}
	notify := func(err error, d time.Duration) {
		slog.Warn("carrier fetch retry", "shipment", ref.String(), "in", d.String(), "error", err.Error())
	}
	if err := backoff.RetryNotify(op, s.retry.carrier(ctx), notify); err != nil {
		return carrier.RawPage{}, errors.Wrap(err, "fetch carrier page")
	}
	if page.FetchedAt.IsZero() {
		page.FetchedAt = s.now()
	}
	return page, nil
}

func (s *Syncer) push(ctx context.Context, upd models.ShipmentUpdate) error {
	op := func() error {
		err := s.api.PushUpdate(ctx, upd)
		if err != nil && errors.Is(err, ownerapi.ErrAuth) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		slog.Warn("push update retry", "shipment", upd.Ref().String(), "in", d.String(), "error", err.Error())
	}
	return errors.Wrap(backoff.RetryNotify(op, s.retry.api(ctx), notify), "push update")
}

// throttle ждёт, пока общий лимит запросов к перевозчику не пропустит запрос.
// Недоступный Redis не останавливает синхронизацию.
func (s *Syncer) throttle(ctx context.Context) {
	if s.rl == nil || s.rateLimitPerMinute <= 0 {
		return
	}
	for {
		now := s.now()
		key := fmt.Sprintf("rl:carrier:%s:%s", models.CarrierSSW, now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, key, s.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("rate limiter unavailable", "error", err.Error())
			return
		}
		if allowed {
			return
		}
		slog.Warn("rate limit exceeded", "carrier", models.CarrierSSW, "count", n)
		t := time.NewTimer(s.throttlePause)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func failed(res models.ShipmentResult, err error) models.ShipmentResult {
	res.Kind = kindOf(err)
	res.Message = err.Error()
	log := slog.With("shipment", res.Shipment.String(), "kind", string(res.Kind), "error", res.Message)

	switch res.Kind {
	case models.ErrorKindNotFound:
		res.Outcome = models.OutcomeSkipped
		log.Info("shipment not found at carrier, skipped")
	case models.ErrorKindMalformedPage, models.ErrorKindAuth:
		res.Outcome = models.OutcomeFailed
		log.Error("shipment sync failed")
	default:
		res.Outcome = models.OutcomeFailed
		log.Warn("shipment sync failed")
	}
	return res
}

func kindOf(err error) models.ErrorKind {
	var herr *ownerapi.HTTPError
	switch {
	case errors.Is(err, carrier.ErrNotFound):
		return models.ErrorKindNotFound
	case errors.Is(err, carrier.ErrMalformedPage):
		return models.ErrorKindMalformedPage
	case errors.Is(err, carrier.ErrTimeout):
		return models.ErrorKindTimeout
	case errors.Is(err, ownerapi.ErrAuth):
		return models.ErrorKindAuth
	case errors.Is(err, ownerapi.ErrValidation):
		return models.ErrorKindValidation
	case errors.As(err, &herr):
		return models.ErrorKindHTTP
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindTimeout
	default:
		return models.ErrorKindTransport
	}
}

func retryableCarrier(err error) bool {
	return errors.Is(err, carrier.ErrTimeout) || errors.Is(err, carrier.ErrTransport)
}

func abort(err error) error {
	return &abortError{cause: err}
}

type abortError struct{ cause error }

func (e *abortError) Error() string   { return ErrRunAborted.Error() + ": " + e.cause.Error() }
func (e *abortError) Is(t error) bool { return t == ErrRunAborted }
func (e *abortError) Unwrap() error   { return e.cause }
