package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/config"
	"github.com/e7canasta/antiprimes/emitter/emittertest"
)

func testConfig(encoding string) config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Enabled = true
	cfg.Encoding = encoding
	return cfg
}

func sampleEvent() antiprimes.Event {
	return antiprimes.Event{
		Index:     3,
		Value:     antiprimes.AntiPrime{Value: 6, Divisors: 4},
		Epoch:     1,
		RequestID: "req-1",
		At:        time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestPublish_JSON(t *testing.T) {
	client := emittertest.NewClient()
	e := NewMQTTEmitterWithClient(testConfig("json"), client)

	require.NoError(t, e.Publish(sampleEvent()))

	payloads := client.PublicationsTo("antiprimes/events")
	require.Len(t, payloads, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payloads[0], &decoded))
	assert.EqualValues(t, 3, decoded["index"])
	assert.Equal(t, "req-1", decoded["request_id"])
	assert.Equal(t, map[string]any{"value": float64(6), "divisors": float64(4)}, decoded["value"])

	stats := e.Stats()
	assert.True(t, stats.Connected)
	assert.EqualValues(t, 1, stats.Published)
	assert.Equal(t, 3, stats.LastIndex)
}

func TestPublish_Msgpack(t *testing.T) {
	client := emittertest.NewClient()
	e := NewMQTTEmitterWithClient(testConfig("msgpack"), client)

	require.NoError(t, e.Publish(sampleEvent()))

	payloads := client.PublicationsTo("antiprimes/events")
	require.Len(t, payloads, 1)

	ev, err := Decode(payloads[0], "msgpack")
	require.NoError(t, err)
	assert.Equal(t, sampleEvent().Value, ev.Value)
	assert.True(t, sampleEvent().At.Equal(ev.At))
}

func TestPublish_NotConnected(t *testing.T) {
	client := emittertest.NewClient()
	client.SetConnected(false)
	e := NewMQTTEmitterWithClient(testConfig("json"), client)

	assert.ErrorIs(t, e.Publish(sampleEvent()), ErrNotConnected)
	assert.EqualValues(t, 1, e.Stats().Errors)
	assert.Empty(t, client.Publications())

	// No client at all
	assert.ErrorIs(t, NewMQTTEmitter(testConfig("json")).Publish(sampleEvent()), ErrNotConnected)
}

func TestPublish_BrokerError(t *testing.T) {
	client := emittertest.NewClient()
	client.PublishErr = errors.New("broker says no")
	e := NewMQTTEmitterWithClient(testConfig("json"), client)

	err := e.Publish(sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker says no")
	assert.EqualValues(t, 1, e.Stats().Errors)
}

func TestEncode_UnknownEncoding(t *testing.T) {
	_, err := Encode(sampleEvent(), "xml")
	assert.Error(t, err)
}

func TestRun_PublishesSequenceGrowth(t *testing.T) {
	seq := antiprimes.New(antiprimes.Options{})
	require.NoError(t, seq.Start(context.Background()))
	defer seq.Stop()

	client := emittertest.NewClient()
	e := NewMQTTEmitterWithClient(testConfig("json"), client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, seq, 8) }()

	require.Eventually(t, func() bool {
		_, ok := seq.Stats().Notifier.Subscribers[SubscriberID]
		return ok
	}, time.Second, time.Millisecond)

	for i := 1; i <= 2; i++ {
		_, _, err := seq.ComputeNext(context.Background())
		require.NoError(t, err)
		require.Eventually(t, func() bool { return seq.Len() == i+1 }, 2*time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool { return e.Stats().Published == 2 }, time.Second, time.Millisecond)

	payloads := client.PublicationsTo("antiprimes/events")
	last, err := Decode(payloads[1], "json")
	require.NoError(t, err)
	assert.Equal(t, antiprimes.AntiPrime{Value: 4, Divisors: 3}, last.Value)

	cancel()
	require.NoError(t, <-done)
	_, still := seq.Stats().Notifier.Subscribers[SubscriberID]
	assert.False(t, still, "Run unsubscribes on exit")
}
