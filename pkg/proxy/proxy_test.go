package proxy

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Semior001/hroxy/pkg/discovery"
	"github.com/Semior001/hroxy/pkg/proxy/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo is an upstream that reports what it has received.
func echo(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Got-Path", r.URL.EscapedPath())
		w.Header().Set("X-Got-Query", r.URL.RawQuery)
		w.Header().Set("X-Got-Host", r.Host)
		w.Header().Set("X-Got-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.Header().Set("X-Got-Forwarded-Host", r.Header.Get("X-Forwarded-Host"))
		w.Header().Set("X-Got-Method", r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func newGateway(t *testing.T, rules []discovery.Rule, opts ...Option) *httptest.Server {
	t.Helper()
	rs, err := discovery.NewRuleSet(rules)
	require.NoError(t, err)
	gw := httptest.NewServer(NewServer(rs, append([]Option{Version("test")}, opts...)...))
	t.Cleanup(gw.Close)
	return gw
}

func TestServer_Rewrite(t *testing.T) {
	staff, device, activity := echo(t), echo(t), echo(t)

	gw := newGateway(t, []discovery.Rule{
		{
			Name:    "staff",
			Prefix:  "/api-staff",
			Target:  mustURL(t, staff.URL),
			Rewrite: discovery.Rewrite{From: "/api-staff", To: "/api"},
		},
		{
			Name:    "device",
			Prefix:  "/api-device",
			Target:  mustURL(t, device.URL),
			Rewrite: discovery.Rewrite{From: "/api-device", To: "/api/DeviceManagement"},
		},
		{Name: "activity", Prefix: "/api/Activity", Target: mustURL(t, activity.URL)},
	})

	tests := []struct {
		name     string
		path     string
		upstream *httptest.Server
		wantPath string
	}{
		{
			name:     "staff",
			path:     "/api-staff/Auth/change-password",
			upstream: staff,
			wantPath: "/api/Auth/change-password",
		},
		{
			name:     "device",
			path:     "/api-device/devices",
			upstream: device,
			wantPath: "/api/DeviceManagement/devices",
		},
		{
			name:     "passthrough",
			path:     "/api/Activity/42",
			upstream: activity,
			wantPath: "/api/Activity/42",
		},
		{
			name:     "raw prefix without separator",
			path:     "/api-staffing",
			upstream: staff,
			wantPath: "/apiing",
		},
		{
			name:     "escaped path is kept escaped",
			path:     "/api-staff/files/a%2Fb",
			upstream: staff,
			wantPath: "/api/files/a%2Fb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(gw.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.wantPath, resp.Header.Get("X-Got-Path"))
			assert.Equal(t, mustURL(t, tt.upstream.URL).Host, resp.Header.Get("X-Got-Host"))
		})
	}
}

func TestServer_LongestPrefix(t *testing.T) {
	activity, participation := echo(t), echo(t)

	gw := newGateway(t, []discovery.Rule{
		{Name: "activity", Prefix: "/api/Activity", Target: mustURL(t, activity.URL)},
		{Name: "participation", Prefix: "/api/ActivityParticipation", Target: mustURL(t, participation.URL)},
	})

	resp, err := http.Get(gw.URL + "/api/ActivityParticipation/7")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, mustURL(t, participation.URL).Host, resp.Header.Get("X-Got-Host"))

	resp, err = http.Get(gw.URL + "/api/Activity/7")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, mustURL(t, activity.URL).Host, resp.Header.Get("X-Got-Host"))
}

func TestServer_RequestPreserved(t *testing.T) {
	up := echo(t)
	gw := newGateway(t, []discovery.Rule{
		{Name: "staff", Prefix: "/api-staff", Target: mustURL(t, up.URL)},
		{Name: "preserved", Prefix: "/preserved", Target: mustURL(t, up.URL), PreserveHost: true},
		{
			Name:    "mismatched rewrite",
			Prefix:  "/legacy",
			Target:  mustURL(t, up.URL),
			Rewrite: discovery.Rewrite{From: "/other", To: "/api"},
		},
	})

	t.Run("method, query and body", func(t *testing.T) {
		resp, err := http.Post(gw.URL+"/api-staff/Auth?x=1&y=2", "text/plain", strings.NewReader("payload"))
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(body))
		assert.Equal(t, http.MethodPost, resp.Header.Get("X-Got-Method"))
		assert.Equal(t, "x=1&y=2", resp.Header.Get("X-Got-Query"))
	})

	t.Run("forwarded headers", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, gw.URL+"/api-staff/x", nil)
		require.NoError(t, err)
		req.Host = "gateway.example"
		req.Header.Set("X-Forwarded-For", "10.0.0.1")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "10.0.0.1, 127.0.0.1", resp.Header.Get("X-Got-Forwarded-For"))
		assert.Equal(t, "gateway.example", resp.Header.Get("X-Got-Forwarded-Host"))
		assert.Equal(t, mustURL(t, up.URL).Host, resp.Header.Get("X-Got-Host"))
	})

	t.Run("preserve host", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, gw.URL+"/preserved/x", nil)
		require.NoError(t, err)
		req.Host = "gateway.example"

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "gateway.example", resp.Header.Get("X-Got-Host"))
	})

	t.Run("headers and upstream status are relayed", func(t *testing.T) {
		received := make(chan *http.Request, 1)
		teapot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received <- r.Clone(context.Background())
			w.Header().Set("Set-Cookie", "a=b")
			w.Header().Set("X-Upstream", "teapot")
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("teapot"))
		}))
		defer teapot.Close()

		gw := newGateway(t, []discovery.Rule{{Prefix: "/api-staff", Target: mustURL(t, teapot.URL)}})

		req, err := http.NewRequest(http.MethodDelete, gw.URL+"/api-staff/Auth/1", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer t")
		req.Header.Set("X-Custom", "v")
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-Forwarded-Host", "edge.example")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
		assert.Equal(t, "teapot", string(body))
		assert.Equal(t, "a=b", resp.Header.Get("Set-Cookie"))
		assert.Equal(t, "teapot", resp.Header.Get("X-Upstream"))

		got := <-received
		assert.Equal(t, http.MethodDelete, got.Method)
		assert.Equal(t, "Bearer t", got.Header.Get("Authorization"))
		assert.Equal(t, "v", got.Header.Get("X-Custom"))
		assert.Equal(t, "https", got.Header.Get("X-Forwarded-Proto"))
		assert.Equal(t, "edge.example", got.Header.Get("X-Forwarded-Host"))
	})

	t.Run("rewrite doesn't apply", func(t *testing.T) {
		resp, err := http.Get(gw.URL + "/legacy/x")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/legacy/x", resp.Header.Get("X-Got-Path"))
	})
}

func TestServer_Streaming(t *testing.T) {
	up := echo(t)
	gw := newGateway(t, []discovery.Rule{{Prefix: "/upload", Target: mustURL(t, up.URL)}})

	payload := make([]byte, 8<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	resp, err := http.Post(gw.URL+"/upload", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Equal(payload, got), "body must be forwarded byte to byte")
}

func TestServer_Errors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := l.Addr().String()
	require.NoError(t, l.Close())

	gw := newGateway(t, []discovery.Rule{
		{Name: "staff", Prefix: "/api-staff", Target: mustURL(t, "http://"+closedAddr)},
		{Name: "device", Prefix: "/api-device", Target: mustURL(t, slow.URL), Timeout: 50 * time.Millisecond},
	}, WithMetrics(metrics))

	t.Run("no route", func(t *testing.T) {
		resp, err := http.Get(gw.URL + "/api/Unknown")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "{hroxy} no route for path /api/Unknown\n", string(body))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues(unmatched, "404")))
	})

	t.Run("upstream unavailable", func(t *testing.T) {
		resp, err := http.Get(gw.URL + "/api-staff/Auth")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Contains(t, string(body), "upstream http://"+closedAddr+" unavailable for /api-staff/Auth")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.upstreamErrors.WithLabelValues("staff", "unavailable")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("staff", "502")))
	})

	t.Run("upstream timeout", func(t *testing.T) {
		start := time.Now()
		resp, err := http.Get(gw.URL + "/api-device/devices")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
		assert.Contains(t, string(body), "timed out after 50ms")
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.upstreamErrors.WithLabelValues("device", "timeout")))
	})
}

func TestServer_DefaultTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	gw := newGateway(t, []discovery.Rule{{Prefix: "/", Target: mustURL(t, slow.URL)}},
		Timeout(50*time.Millisecond))

	resp, err := http.Get(gw.URL + "/anything")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestServer_ClientCancel(t *testing.T) {
	started, canceled := make(chan struct{}), make(chan struct{})
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
			close(canceled)
		case <-time.After(5 * time.Second):
		}
	}))
	defer up.Close()

	gw := newGateway(t, []discovery.Rule{{Prefix: "/api-staff", Target: mustURL(t, up.URL)}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.URL+"/api-staff/slow", nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
		}
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("request didn't reach the upstream")
	}
	cancel()

	select {
	case <-canceled:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream request wasn't canceled")
	}
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestServer_MatchError(t *testing.T) {
	matcher := &mocks.MatcherMock{MatchFunc: func(string) (discovery.Rule, error) {
		return discovery.Rule{}, errors.New("boom")
	}}

	rec := httptest.NewRecorder()
	NewServer(matcher).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-staff/a%2Fb", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "{hroxy} boom\n", rec.Body.String())
	require.Len(t, matcher.MatchCalls(), 1)
	assert.Equal(t, "/api-staff/a/b", matcher.MatchCalls()[0].Path)
}

func TestServer_ListenError(t *testing.T) {
	bts := bytes.NewBuffer(nil)
	defaultLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(bts, nil)))
	defer slog.SetDefault(defaultLogger)

	err := NewServer(&mocks.MatcherMock{}).Listen("127.0.0.1:-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register listener")

	var stopped string
	for _, line := range strings.Split(bts.String(), "\n") {
		if strings.Contains(line, "HTTP server stopped") {
			stopped = line
		}
	}
	assert.Contains(t, stopped, "register listener", "stop reason must be logged")
}

func TestServer_Listen(t *testing.T) {
	up := echo(t)
	rs, err := discovery.NewRuleSet([]discovery.Rule{{Prefix: "/", Target: mustURL(t, up.URL)}})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := NewServer(rs)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	srv.Close()
	assert.NoError(t, <-errCh)
}
