package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/compass/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

// sseServer writes each chunk with an explicit flush so the client sees the
// same chunk boundaries.
func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			io.WriteString(w, c)
			flusher.Flush()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(`{"message":"Hello"}`))
	require.NoError(t, err)
	return req
}

// collect drains a stream and returns its fragments and terminal event.
func collect(t *testing.T, s *Stream) ([]string, Event) {
	t.Helper()
	var frags []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "channel closed before terminal event")
			switch ev.Type {
			case EventFragment:
				frags = append(frags, ev.Fragment)
			default:
				return frags, ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}
}

func TestOpen_StreamsFragmentsAcrossChunks(t *testing.T) {
	ts := sseServer(t,
		"data: Hi\n\nda",
		"ta: the",
		"re\n\n",
		"data: !\n\ndata: [DO",
		"NE]\n\n",
	)

	s, err := Open(context.Background(), http.DefaultClient, newRequest(t, ts.URL), silentLog())
	require.NoError(t, err)
	defer s.Close()

	frags, last := collect(t, s)
	assert.Equal(t, []string{"Hi", "there", "!"}, frags)
	assert.Equal(t, EventDone, last.Type)
	assert.True(t, last.Terminated)

	_, open := <-s.Events()
	assert.False(t, open, "channel closes after terminal event")
}

func TestOpen_SetsAcceptHeader(t *testing.T) {
	var accept string
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		accept = r.Header.Get("Accept")
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("data: [DONE]\n"))}, nil
	})

	s, err := Open(context.Background(), doer, newRequest(t, "http://backend/chat/stream"), silentLog())
	require.NoError(t, err)
	_, last := collect(t, s)
	assert.True(t, last.Terminated)
	assert.Equal(t, "text/event-stream", accept)
}

func TestOpen_WithoutTerminator(t *testing.T) {
	ts := sseServer(t, "data: partial\n\n")

	s, err := Open(context.Background(), http.DefaultClient, newRequest(t, ts.URL), silentLog())
	require.NoError(t, err)
	defer s.Close()

	frags, last := collect(t, s)
	assert.Equal(t, []string{"partial"}, frags)
	assert.Equal(t, EventDone, last.Type)
	assert.False(t, last.Terminated)
}

func TestOpen_MalformedLinesAreReportedNotYielded(t *testing.T) {
	ts := sseServer(t, "data: a\n\nInternal Server Error\n\ndata:b\n\ndata: c\n\ndata: [DONE]\n\n")

	s, err := Open(context.Background(), http.DefaultClient, newRequest(t, ts.URL), silentLog())
	require.NoError(t, err)
	defer s.Close()

	frags, last := collect(t, s)
	assert.Equal(t, []string{"a", "c"}, frags)
	assert.True(t, last.Terminated)

	bad := s.Malformed()
	require.Len(t, bad, 2)
	assert.Equal(t, "Internal Server Error", bad[0].Line)
	assert.Equal(t, "data:b", bad[1].Line)
}

func TestOpen_NonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Conversation not found"}`)
	}))
	defer ts.Close()

	s, err := Open(context.Background(), http.DefaultClient, newRequest(t, ts.URL), silentLog())
	require.Error(t, err)
	assert.Nil(t, s)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Equal(t, "Conversation not found", te.Message)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestOpen_NetworkError(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := Open(context.Background(), doer, newRequest(t, "http://backend"), silentLog())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOpen_MissingBody(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK}, nil
	})

	_, err := Open(context.Background(), doer, newRequest(t, "http://backend"), silentLog())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestOpen_CancelAbortsConnection(t *testing.T) {
	serverDone := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: first\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := Open(ctx, http.DefaultClient, newRequest(t, ts.URL), silentLog())
	require.NoError(t, err)

	ev := <-s.Events()
	require.Equal(t, EventFragment, ev.Type)
	assert.Equal(t, "first", ev.Fragment)

	cancel()

	for ev := range s.Events() {
		if ev.Type == EventError {
			assert.ErrorIs(t, ev.Err, context.Canceled)
		}
		assert.NotEqual(t, EventFragment, ev.Type)
	}

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not observe the aborted connection")
	}
}

func TestClose_StopsUnreadStream(t *testing.T) {
	ts := sseServer(t, strings.Repeat("data: x\n\n", 100))

	s, err := Open(context.Background(), http.DefaultClient, newRequest(t, ts.URL), silentLog())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "detail string", body: `{"detail":"Invalid email or password"}`, want: "Invalid email or password"},
		{name: "validation list", body: `{"detail":[{"loc":["body","message"],"msg":"field required"}]}`, want: "field required"},
		{name: "message field", body: `{"message":"boom"}`, want: "boom"},
		{name: "plain text", body: "Bad Gateway", want: "Bad Gateway"},
		{name: "empty", body: "  ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
		})
	}
}

func TestErrorFromResponse_FallsBackToStatusText(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader(""))}
	te := ErrorFromResponse(resp)
	assert.Equal(t, "Bad Gateway", te.Message)
	assert.Equal(t, "transport: 502: Bad Gateway", te.Error())
}

func TestFromBody(t *testing.T) {
	s := FromBody(context.Background(), io.NopCloser(strings.NewReader(encode([]string{"Hi", "there", "!"}))), silentLog())
	defer s.Close()

	frags, last := collect(t, s)
	assert.Equal(t, "Hithere!", strings.Join(frags, ""))
	assert.True(t, last.Terminated)
}
