package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/breaker"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/sswhttp"
	"github.com/BearBump/TrackSync/internal/integrations/ownerapi"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/syncer"
	"github.com/stretchr/testify/require"
)

type stubOwnerAPI struct {
	mu      sync.Mutex
	pending []models.ShipmentRef
	listErr error
	lists   int
	pushed  int
}

func (a *stubOwnerAPI) ListPending(ctx context.Context) ([]models.ShipmentRef, error) {
	a.mu.Lock()
	a.lists++
	a.mu.Unlock()
	return a.pending, a.listErr
}

func (a *stubOwnerAPI) PushUpdate(ctx context.Context, upd models.ShipmentUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushed++
	return nil
}

type recordingProducer struct {
	mu     sync.Mutex
	topics []string
	closed bool
}

func (p *recordingProducer) PublishJSON(ctx context.Context, topic, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingProducer) Close() error {
	p.closed = true
	return nil
}

type chanConsumer struct {
	reqs   chan messages.SyncRequested
	closed bool
}

func (c *chanConsumer) Listen(ctx context.Context, handle func(messages.SyncRequested) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-c.reqs:
			if err := handle(r); err != nil {
				return err
			}
		}
	}
}

func (c *chanConsumer) Close() error {
	c.closed = true
	return nil
}

func baseConfig() *config.Config {
	return &config.Config{
		API:     config.APIConfig{BaseURL: "http://api.local", APIKey: "k"},
		Carrier: config.CarrierConfig{Mode: "fake"},
		Sync:    config.SyncConfig{Workers: 2, Schedule: "@every 1h"},
		HTTP:    config.HTTPConfig{Addr: "127.0.0.1:0"},
	}
}

func testFactories(api syncer.OwnerAPI) syncFactories {
	f := defaultSyncFactories()
	f.newOwnerAPI = func(*config.Config) syncer.OwnerAPI { return api }
	return f
}

func TestDefaultSyncFactories_SelectCarrierClient(t *testing.T) {
	f := defaultSyncFactories()

	cfg := baseConfig()
	_, ok := f.newCarrierClient(cfg).(*fake.FakeClient)
	require.True(t, ok)

	cfg.Carrier.Mode = "ssw"
	_, ok = f.newCarrierClient(cfg).(*sswhttp.Client)
	require.True(t, ok)

	cfg.Carrier.Breaker = config.BreakerConfig{Enabled: true, FailureThreshold: 2}
	var c carrier.Client = f.newCarrierClient(cfg)
	b, ok := c.(*breaker.Client)
	require.True(t, ok)
	require.Equal(t, "closed", b.State())

	_, ok = f.newOwnerAPI(cfg).(*ownerapi.Client)
	require.True(t, ok)
}

func TestDefaultSyncFactories_OptionalDeps(t *testing.T) {
	f := defaultSyncFactories()
	cfg := baseConfig()
	cfg.Kafka = config.KafkaConfig{Host: "localhost", Port: 9092}
	require.NotNil(t, f.newProducer(cfg))
	require.Nil(t, f.newTriggerConsumer(cfg))

	cfg.Kafka.SyncRequestedTopicName = "tracking.sync.requested"
	c := f.newTriggerConsumer(cfg)
	require.NotNil(t, c)
	require.NoError(t, c.Close())

	mr := miniredis.RunT(t)
	cfg.Redis = config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr.Port())}
	rl, store, closeFn := f.newRedis(cfg)
	defer closeFn()
	require.NotNil(t, rl)
	require.NoError(t, store.Ping(context.Background()))
}

func mustPort(t *testing.T, p string) int {
	t.Helper()
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func TestBuildSyncApp_InvalidConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.API.APIKey = ""
	_, err := buildSyncApp(cfg, defaultSyncFactories())
	require.Error(t, err)

	cfg = baseConfig()
	cfg.Sync.Schedule = "sometimes"
	_, err = buildSyncApp(cfg, testFactories(&stubOwnerAPI{}))
	require.Error(t, err)

	cfg = baseConfig()
	cfg.Carrier.OccurrenceCatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = buildSyncApp(cfg, testFactories(&stubOwnerAPI{}))
	require.Error(t, err)
}

func TestRunOnce_FakeCarrier(t *testing.T) {
	api := &stubOwnerAPI{pending: []models.ShipmentRef{
		{InvoiceNumber: "1", Document: "12345678000199"},
		{InvoiceNumber: "2", Document: "12345678000199"},
		{InvoiceNumber: "3", Document: "12345678000199"},
	}}
	cfg := baseConfig()

	catalog := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`
- code: "01"
  description: "MERCADORIA ENTREGUE"
  type: "Baixa"
  process: "Entrega"
- code: "80"
  description: "MERCADORIA RECEBIDA PARA TRANSPORTE"
  type: "Informativa"
  process: "Operacional"
`), 0o600))
	cfg.Carrier.OccurrenceCatalogPath = catalog

	report, err := RunOnce(context.Background(), cfg, testFactories(api))
	require.NoError(t, err)
	require.Equal(t, 3, report.Attempted)
	require.Empty(t, report.Failed)
	require.Equal(t, report.Succeeded, api.pushed)
}

func TestRunOnce_WithRedisAndKafka(t *testing.T) {
	mr := miniredis.RunT(t)
	api := &stubOwnerAPI{pending: []models.ShipmentRef{{InvoiceNumber: "42", Document: "12345678000199"}}}
	prod := &recordingProducer{}

	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr.Port()), RateLimitPerMinute: 100}
	cfg.Kafka = config.KafkaConfig{Host: "localhost", Port: 9092, SyncCompletedTopicName: "done"}

	f := testFactories(api)
	f.newProducer = func(*config.Config) closableProducer { return prod }

	report, err := RunOnce(context.Background(), cfg, f)
	require.NoError(t, err)
	require.Equal(t, 1, report.Attempted)
	require.True(t, prod.closed)
	require.Contains(t, prod.topics, "done")
	require.True(t, mr.Exists("tracksync:report:last"))
}

func TestRunOnce_ListUnauthorized(t *testing.T) {
	api := &stubOwnerAPI{listErr: &ownerapi.HTTPError{Op: "list pending", StatusCode: 401, Err: ownerapi.ErrAuth}}
	report, err := RunOnce(context.Background(), baseConfig(), testFactories(api))
	require.ErrorIs(t, err, syncer.ErrRunAborted)
	require.Zero(t, report.Attempted)
}

func TestRunTrackSync_TriggerFromKafka(t *testing.T) {
	api := &stubOwnerAPI{pending: []models.ShipmentRef{{InvoiceNumber: "7", Document: "12345678000199"}}}
	consumer := &chanConsumer{reqs: make(chan messages.SyncRequested, 1)}

	cfg := baseConfig()
	cfg.Kafka = config.KafkaConfig{Host: "localhost", Port: 9092, SyncRequestedTopicName: "req"}
	f := testFactories(api)
	f.newProducer = func(*config.Config) closableProducer { return &recordingProducer{} }
	f.newTriggerConsumer = func(*config.Config) triggerConsumer { return consumer }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunTrackSync(ctx, cfg, f, syncHTTPOpts{httpAddr: "127.0.0.1:0"}) }()

	consumer.reqs <- messages.SyncRequested{RequestedBy: "test", RequestedAt: time.Now()}
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.lists > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, consumer.closed)
}

func TestRunTrackSync_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackSync(ctx, baseConfig(), testFactories(&stubOwnerAPI{}), syncHTTPOpts{httpAddr: "127.0.0.1:0"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy(t *testing.T) {
	zero, three := 0, 3
	p := retryPolicy(config.SyncConfig{CarrierRetries: &zero, APIRetries: &three, RetryInitialMillis: 10})
	require.Equal(t, uint64(0), p.CarrierRetries)
	require.Equal(t, uint64(3), p.APIRetries)
	require.Equal(t, 10*time.Millisecond, p.InitialInterval)

	def := retryPolicy(config.SyncConfig{})
	require.Equal(t, syncer.DefaultRetryPolicy(), def)
}
