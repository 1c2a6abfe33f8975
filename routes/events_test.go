package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-context-platform/internal/notifier"
	"document-context-platform/internal/store"
	"document-context-platform/middleware"
	"document-context-platform/models"
)

type fakeChangeFeed struct {
	events chan store.ChangeEvent
}

func (f *fakeChangeFeed) Watch(ctx context.Context, ownerID string) (<-chan store.ChangeEvent, error) {
	out := make(chan store.ChangeEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-f.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func newStreamServer(feed *fakeChangeFeed) (*httptest.Server, *notifier.Notifier) {
	n := notifier.New(feed)
	r := gin.New()
	api := r.Group("/api", middleware.RequireOwner())
	api.GET("/uploads/events", StreamEvents(testConfig(), n, nil))
	return httptest.NewServer(r), n
}

func readEvent(t *testing.T, r *bufio.Reader) models.RecordEvent {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)

	var ev models.RecordEvent
	require.NoError(t, json.Unmarshal(line, &ev))
	return ev
}

// readDataEvent skips interleaved heartbeats from the per-connection timer.
func readDataEvent(t *testing.T, r *bufio.Reader) models.RecordEvent {
	t.Helper()
	for i := 0; i < 10; i++ {
		ev := readEvent(t, r)
		if ev.Type != models.EventHeartbeat {
			return ev
		}
	}
	t.Fatal("no data event among the last 10 stream events")
	return models.RecordEvent{}
}

func TestStreamEventsHeartbeatFirst(t *testing.T) {
	feed := &fakeChangeFeed{events: make(chan store.ChangeEvent)}
	srv, _ := newStreamServer(feed)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/uploads/events", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.OwnerIDHeader, "owner-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// The stream opens with an immediate heartbeat.
	ev := readEvent(t, reader)
	assert.Equal(t, models.EventHeartbeat, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())

	// Further heartbeats follow on the configured interval with no data
	// events flowing.
	start := time.Now()
	ev = readEvent(t, reader)
	assert.Equal(t, models.EventHeartbeat, ev.Type)
	assert.WithinDuration(t, start.Add(time.Second), time.Now(), 900*time.Millisecond)
}

func TestStreamEventsDeliversRecordChanges(t *testing.T) {
	feed := &fakeChangeFeed{events: make(chan store.ChangeEvent)}
	srv, _ := newStreamServer(feed)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/uploads/events", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.OwnerIDHeader, "owner-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent(t, reader) // initial heartbeat

	rec := &models.UploadRecord{ID: "rec-1", OwnerID: "owner-1", Status: models.StatusReady, Progress: 100}
	feed.events <- store.ChangeEvent{Type: store.ChangeUpsert, Record: rec}

	ev := readDataEvent(t, reader)
	require.Equal(t, models.EventRecordUpdate, ev.Type)
	require.NotNil(t, ev.Record)
	assert.Equal(t, "rec-1", ev.Record.ID)
	assert.Equal(t, models.StatusReady, ev.Record.Status)

	feed.events <- store.ChangeEvent{Type: store.ChangeDelete, RecordID: "rec-1"}

	ev = readDataEvent(t, reader)
	require.Equal(t, models.EventRecordDeleted, ev.Type)
	assert.Equal(t, "rec-1", ev.RecordID)
	assert.Nil(t, ev.Record)
}

func TestStreamEventsDetachesOnDisconnect(t *testing.T) {
	feed := &fakeChangeFeed{events: make(chan store.ChangeEvent)}
	srv, n := newStreamServer(feed)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/uploads/events", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.OwnerIDHeader, "owner-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	readEvent(t, reader)

	require.Eventually(t, func() bool { return n.Subscribers("owner-1") == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool { return n.Subscribers("owner-1") == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestStreamEventsRequiresOwner(t *testing.T) {
	feed := &fakeChangeFeed{events: make(chan store.ChangeEvent)}
	srv, _ := newStreamServer(feed)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/uploads/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
