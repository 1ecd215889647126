package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGuard/internal/repository"
	"FinGuard/pkg/config"
	"FinGuard/pkg/logger"
)

func TestInitializeAppStandalone(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "error"

	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app)
	cleanup()
}

func TestOptionalProvidersDisabled(t *testing.T) {
	cfg := config.Default()
	l := logger.Nop()

	producer, _, err := ProvideKafkaProducer(cfg, ProvideRegistry(), l)
	require.NoError(t, err)
	assert.Nil(t, producer)
	assert.Nil(t, ProvideEventPublisher(cfg, producer))

	ch, _, err := ProvideClickHouseClient(cfg, l)
	require.NoError(t, err)
	assert.Nil(t, ch)

	store, err := ProvideAnalysisStore(cfg, ch, l)
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryAnalysisStore{}, store)

	rc, _, err := ProvideRedisClient(cfg, l)
	require.NoError(t, err)
	assert.Nil(t, rc)
	assert.Nil(t, ProvideQueue(cfg, rc, l))

	assert.Nil(t, ProvideTradeCollector(cfg, ProvideLiveWindow(cfg), nil, ProvideMetrics(ProvideRegistry()), l))

	consumer, err := ProvideKafkaConsumer(cfg, ProvideLiveWindow(cfg), nil, ProvideRegistry(), l)
	require.NoError(t, err)
	assert.Nil(t, consumer)
}

func TestProvideTradeCollectorEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Binance.Enabled = true
	c := ProvideTradeCollector(cfg, ProvideLiveWindow(cfg), nil, ProvideMetrics(ProvideRegistry()), logger.Nop())
	require.NotNil(t, c)
	assert.False(t, c.IsConnected())
}
