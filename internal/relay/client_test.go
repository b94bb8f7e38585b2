package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"relay choked"}`)
			return
		}
		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent-1", req.From)
		json.NewEncoder(w).Encode(SendResponse{MessageID: "m-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Send(context.Background(), SendRequest{From: "agent-1", Topic: "build", Body: "done"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", resp.MessageID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"missing topic"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Send(context.Background(), SendRequest{From: "agent-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing topic")
	assert.Equal(t, int32(1), hits.Load(), "a 400 is the caller's fault, retrying changes nothing")
}

func TestGenericUnexpectedErrorIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"error":"Unexpected error, please retry"}`)
			return
		}
		json.NewEncoder(w).Encode(RegisterResponse{SessionID: "s-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Register(context.Background(), RegisterRequest{Agent: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", resp.SessionID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchInboxCoalescesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		json.NewEncoder(w).Encode(FetchInboxResponse{Messages: []Message{{ID: "m-1", Body: "hi"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*FetchInboxResponse, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.FetchInbox(context.Background(), FetchInboxRequest{Agent: "agent-1"})
		}(i)
	}

	// Let all callers pile onto the in-flight fetch before it returns.
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "concurrent fetches share one call")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Messages, 1)
		assert.Equal(t, "m-1", results[i].Messages[0].ID)
	}
}

func TestPingDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", &statusError{code: 500, message: "boom"}, true},
		{"503", &statusError{code: 503, message: "overloaded"}, true},
		{"400", &statusError{code: 400, message: "bad request"}, false},
		{"404", &statusError{code: 404, message: "no such agent"}, false},
		{"4xx with generic relay failure text", &statusError{code: 409, message: "Unexpected error"}, true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:7070: connect: connection refused"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"plain failure", errors.New("invalid topic name"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestReserveTopicConflictIsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ReserveTopicResponse{Granted: false, Holder: "agent-2"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.ReserveTopic(context.Background(), ReserveTopicRequest{Agent: "agent-1", Topic: "deploy"})
	require.NoError(t, err, "a denied claim is a normal response")
	assert.False(t, resp.Granted)
	assert.Equal(t, "agent-2", resp.Holder)
}
