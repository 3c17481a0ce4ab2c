package sigengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-enginev1/config"
	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	redisstore "signal-enginev1/internal/store/redis"
)

func TestBreakerConfigFromEnvConfig(t *testing.T) {
	bc := breakerConfig(&config.Config{RedisBreakerFailures: 3, RedisBreakerCooldownSec: 20})
	assert.Equal(t, 3, bc.MaxFailures)
	assert.Equal(t, 20*time.Second, bc.Cooldown)
}

func TestObserveBreakerExportsTrips(t *testing.T) {
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	health := metrics.NewHealthStatus()
	health.SetRedisConnected(true)

	cb := redisstore.NewCircuitBreaker(redisstore.BreakerConfig{MaxFailures: 2, Cooldown: time.Millisecond})
	observeBreaker(cb, prom, health)
	assert.Equal(t, 0.0, gaugeValue(t, prom.RedisCircuitState))

	down := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return down })
	}
	assert.Equal(t, float64(redisstore.StateOpen), gaugeValue(t, prom.RedisCircuitState))
	assert.Equal(t, 1.0, counterValue(t, prom.RedisCircuitTrips))
	assert.False(t, health.RedisConnected)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, float64(redisstore.StateClosed), gaugeValue(t, prom.RedisCircuitState))
	assert.Equal(t, 1.0, counterValue(t, prom.RedisCircuitTrips))
	assert.True(t, health.RedisConnected)
}

func TestRecordQueueDepth(t *testing.T) {
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	fo := bus.New[model.SignalRow](8)
	_ = fo.Subscribe("gateway")
	_ = fo.Subscribe("alerts")

	in := make(chan model.SignalRow, 3)
	for i := 0; i < 3; i++ {
		in <- model.SignalRow{Meta: btc}
	}
	close(in)
	fo.Run(context.Background(), in)

	recordQueueDepth(fo, prom)
	assert.Equal(t, 3.0, gaugeValue(t, prom.FanoutDepth.WithLabelValues("gateway")))
	assert.Equal(t, 3.0, gaugeValue(t, prom.FanoutDepth.WithLabelValues("alerts")))
}
