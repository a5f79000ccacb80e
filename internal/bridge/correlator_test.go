package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtoolbridge/bridge/internal/scheduler"
)

func TestCorrelator_CallResolvesOnMatchingResponse(t *testing.T) {
	c := NewCorrelator(scheduler.NewTimerScheduler())

	var sentPayload map[string]interface{}
	send := func(payload []byte) error {
		return json.Unmarshal(payload, &sentPayload)
	}

	resultCh := make(chan interface{}, 1)
	go func() {
		result, err := c.Call(context.Background(), "s1", send, "click", map[string]interface{}{"x": 1}, time.Second)
		require.NoError(t, err)
		resultCh <- result
	}()

	// Wait for the call to register itself, then resolve using the
	// requestId the correlator generated.
	var requestID string
	require.Eventually(t, func() bool {
		if sentPayload == nil {
			return false
		}
		id, ok := sentPayload["requestId"].(string)
		if !ok || id == "" {
			return false
		}
		requestID = id
		return true
	}, time.Second, time.Millisecond)

	c.Resolve("s1", requestID, map[string]interface{}{"ok": true})

	select {
	case result := <-resultCh:
		assert.Equal(t, map[string]interface{}{"ok": true}, result)
	case <-time.After(time.Second):
		t.Fatal("Call never returned after Resolve")
	}
}

func TestCorrelator_CallTimesOut(t *testing.T) {
	c := NewCorrelator(scheduler.NewTimerScheduler())
	send := func(payload []byte) error { return nil }

	_, err := c.Call(context.Background(), "s1", send, "click", nil, 10*time.Millisecond)
	require.Error(t, err)
	bridgeErr, ok := err.(*BridgeError)
	require.True(t, ok)
	assert.Equal(t, CodeToolCallTimeout, bridgeErr.Code)
}

func TestCorrelator_ResolveUnknownRequestIsNoop(t *testing.T) {
	c := NewCorrelator(scheduler.NewTimerScheduler())
	assert.NotPanics(t, func() { c.Resolve("ghost", "also-ghost", "whatever") })
}

func TestCorrelator_ResolveIsIdempotent(t *testing.T) {
	c := NewCorrelator(scheduler.NewTimerScheduler())
	var requestID string
	send := func(payload []byte) error {
		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return err
		}
		requestID = decoded["requestId"].(string)
		return nil
	}

	done := make(chan interface{}, 1)
	go func() {
		result, _ := c.Call(context.Background(), "s1", send, "click", nil, time.Second)
		done <- result
	}()

	require.Eventually(t, func() bool { return requestID != "" }, time.Second, time.Millisecond)

	c.Resolve("s1", requestID, "first")
	c.Resolve("s1", requestID, "second") // must not panic or overwrite

	result := <-done
	assert.Equal(t, "first", result)
}

func TestCorrelator_AbortSessionFailsPendingCalls(t *testing.T) {
	c := NewCorrelator(scheduler.NewTimerScheduler())
	send := func(payload []byte) error { return nil }

	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Call(context.Background(), "s1", send, "click", nil, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.AbortSession("s1")
	wg.Wait()

	err := <-errCh
	require.Error(t, err)
	bridgeErr, ok := err.(*BridgeError)
	require.True(t, ok)
	assert.Equal(t, CodeSessionClosed, bridgeErr.Code)
}

func TestCorrelator_AbortAllFailsEverySession(t *testing.T) {
	c := NewCorrelator(scheduler.NewTimerScheduler())
	send := func(payload []byte) error { return nil }

	results := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := c.Call(context.Background(), "s1", send, "click", nil, 5*time.Second)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := c.Call(context.Background(), "s2", send, "click", nil, 5*time.Second)
		results <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.AbortAll()
	wg.Wait()
	close(results)

	for err := range results {
		require.Error(t, err)
		bridgeErr, ok := err.(*BridgeError)
		require.True(t, ok)
		assert.Equal(t, CodeBridgeShutdown, bridgeErr.Code)
	}
}

func TestCorrelator_CallContextCancellationUnblocksCaller(t *testing.T) {
	c := NewCorrelator(scheduler.NewTimerScheduler())
	send := func(payload []byte) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "s1", send, "click", nil, 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Call did not unblock after context cancellation")
	}
}
