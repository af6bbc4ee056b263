package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signoff/internal/notify"
)

func TestDispatcherDeliversAndLogsFailures(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	n := notify.Func(func(ctx context.Context, approverID, requestID string) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		mu.Lock()
		seen = append(seen, approverID+"/"+requestID)
		mu.Unlock()
		if approverID == "broken" {
			return errors.New("smtp down")
		}
		return nil
	})
	var buf bytes.Buffer
	d := notify.NewDispatcher(n, zerolog.New(zerolog.SyncWriter(&buf)), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, "mgr-1", "req-1")
	d.Dispatch(ctx, "broken", "req-2")
	cancel()
	d.Wait()

	assert.ElementsMatch(t, []string{"mgr-1/req-1", "broken/req-2"}, seen)
	assert.Contains(t, buf.String(), "smtp down")
	assert.Contains(t, buf.String(), `"request_id":"req-2"`)
}

func TestDispatcherTimesOut(t *testing.T) {
	done := make(chan error, 1)
	n := notify.Func(func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	d := notify.NewDispatcher(n, zerolog.Nop(), 20*time.Millisecond)
	d.Dispatch(context.Background(), "mgr-1", "req-1")
	d.Wait()
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, notify.Log{Logger: zerolog.New(&buf)}.Notify(context.Background(), "hr-1", "req-9"))
	assert.Contains(t, buf.String(), `"approver_id":"hr-1"`)
	assert.Contains(t, buf.String(), `"request_id":"req-9"`)
}

func TestWebhookNotifier(t *testing.T) {
	type delivery struct {
		msg    notify.Message
		secret string
	}
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d delivery
		d.secret = r.Header.Get("X-Signoff-Secret")
		_ = json.NewDecoder(r.Body).Decode(&d.msg)
		got <- d
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook := notify.NewWebhook(srv.URL, "s3cret", time.Second)
	require.NoError(t, hook.Notify(context.Background(), "adm-1", "req-3"))
	d := <-got
	assert.Equal(t, "s3cret", d.secret)
	assert.Equal(t, "adm-1", d.msg.ApproverID)
	assert.Equal(t, "req-3", d.msg.RequestID)
	assert.Equal(t, "approval.needed", d.msg.Type)
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.NewWebhook(srv.URL, "", time.Second).Notify(context.Background(), "adm-1", "req-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCooldown(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	c := notify.NewCooldown(time.Hour)

	_, ok := c.Reserve("step-1", t0)
	require.True(t, ok)

	wait, ok := c.Reserve("step-1", t0.Add(20*time.Minute))
	assert.False(t, ok)
	assert.Equal(t, 40*time.Minute, wait)

	_, ok = c.Reserve("step-2", t0.Add(20*time.Minute))
	assert.True(t, ok, "cooldown is per step")

	_, ok = c.Reserve("step-1", t0.Add(61*time.Minute))
	assert.True(t, ok)

	c.Release("step-2")
	_, ok = c.Reserve("step-2", t0.Add(21*time.Minute))
	assert.True(t, ok)
}

func TestCooldownDisabled(t *testing.T) {
	c := notify.NewCooldown(0)
	assert.Nil(t, c)
	for i := 0; i < 3; i++ {
		_, ok := c.Reserve("step-1", time.Now())
		assert.True(t, ok)
	}
}

// Runs against a real server when SIGNOFF_TEST_NATS_URL is set.
func TestNATSNotifier(t *testing.T) {
	url := os.Getenv("SIGNOFF_TEST_NATS_URL")
	if url == "" {
		t.Skip("SIGNOFF_TEST_NATS_URL not set")
	}
	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	n, err := notify.NewNATS(url, "signoff.test", time.Second)
	require.NoError(t, err)
	defer n.Close()

	ch := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(n.Subject("mgr-1"), ch)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	require.NoError(t, n.Notify(context.Background(), "mgr-1", "req-1"))
	select {
	case msg := <-ch:
		var m notify.Message
		require.NoError(t, json.Unmarshal(msg.Data, &m))
		assert.Equal(t, "req-1", m.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
