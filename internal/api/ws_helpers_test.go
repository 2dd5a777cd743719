package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestValidateToken(t *testing.T) {
	request := func(header, query string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/observer"+query, nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	cases := []struct {
		name  string
		req   *http.Request
		token string
		want  bool
	}{
		{"no token configured", request("", ""), "", true},
		{"bearer match", request("Bearer secret", ""), "secret", true},
		{"bearer mismatch", request("Bearer wrong", ""), "secret", false},
		{"query match", request("", "?token=secret"), "secret", true},
		{"query mismatch", request("", "?token=wrong"), "secret", false},
		{"missing credentials", request("", ""), "secret", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := validateToken(tc.req, tc.token); got != tc.want {
				t.Errorf("validateToken = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	request := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/observer", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	cases := []struct {
		name    string
		req     *http.Request
		allowed []string
		want    bool
	}{
		{"no origin header", request("", "tracker.local:8080"), nil, true},
		{"same host", request("http://tracker.local:3000", "tracker.local:8080"), nil, true},
		{"cross host", request("http://evil.example", "tracker.local:8080"), nil, false},
		{"allow-listed", request("http://app.example", "tracker.local:8080"), []string{"app.example"}, true},
		{"not allow-listed", request("http://other.example", "tracker.local:8080"), []string{"app.example"}, false},
		{"garbage origin", request("::bad::", "tracker.local:8080"), nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isOriginAllowed(tc.req, tc.allowed); got != tc.want {
				t.Errorf("isOriginAllowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCloseCodeForStatus(t *testing.T) {
	cases := map[int]int{
		http.StatusBadRequest:          websocket.CloseProtocolError,
		http.StatusUnauthorized:        websocket.ClosePolicyViolation,
		http.StatusForbidden:           websocket.ClosePolicyViolation,
		http.StatusServiceUnavailable:  websocket.CloseTryAgainLater,
		http.StatusNotFound:            websocket.ClosePolicyViolation,
		http.StatusInternalServerError: websocket.CloseInternalServerErr,
	}
	for status, want := range cases {
		if got := closeCodeForStatus(status); got != want {
			t.Errorf("closeCodeForStatus(%d) = %d, want %d", status, got, want)
		}
	}
}

func TestTruncateCloseReason(t *testing.T) {
	long := strings.Repeat("x", 200)
	if got := truncateCloseReason(long); len(got) != 123 {
		t.Errorf("truncated length = %d, want 123", len(got))
	}
	if got := truncateCloseReason("short"); got != "short" {
		t.Errorf("short reason changed: %q", got)
	}
}

func TestObserverSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t, "secret")

	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/observer"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected handshake response: %+v", resp)
	}
	resp.Body.Close()

	conn, authed, dialErr := websocket.DefaultDialer.Dial(wsURL+"?token=secret", nil)
	if dialErr != nil {
		t.Fatalf("dial with token: %v", dialErr)
	}
	defer authed.Body.Close()
	_ = conn.Close()
}
