package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/faceid"
	"github.com/kozaktomas/face-ballot/internal/ledger/mock"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

type noFaceEmbedder struct{}

func (noFaceEmbedder) Init(ctx context.Context) error { return nil }

func (noFaceEmbedder) Extract(ctx context.Context, image []byte) (faceid.Descriptor, error) {
	return nil, faceid.ErrNoFace
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	l := mock.NewMockLedger(common.HexToAddress("0x00000000000000000000000000000000000000a1"))
	l.Seed("Build a park")
	o := voting.New(noFaceEmbedder{}, l, nil, voting.Options{})
	return NewServer(cfg, voting.NewReadySession(o), 0, "127.0.0.1")
}

func serve(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "198.51.100.4:40000"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, &config.Config{})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/api/health", http.StatusOK},
		{"GET", "/api/config", http.StatusOK},
		{"GET", "/api/proposals", http.StatusOK},
		{"POST", "/api/initialize", http.StatusOK},
		{"GET", "/api/voters/abc", http.StatusBadRequest},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/api/unknown", http.StatusNotFound},
		{"DELETE", "/api/proposals", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(s, tt.method, tt.path, "", nil)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d\nBody: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRoutes_AdminToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Web.AdminToken = "s3cret"
	s := newTestServer(t, cfg)

	body := `{"description": "Plant trees"}`
	if rec := serve(s, "POST", "/api/proposals", body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	rec := serve(s, "POST", "/api/proposals", body, map[string]string{"Authorization": "Bearer s3cret"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d\nBody: %s", rec.Code, rec.Body.String())
	}
}

func TestRoutes_VoteRateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Web.VoteRateLimit = 1
	cfg.Web.VoteRateBurst = 1
	s := newTestServer(t, cfg)

	body := `{"image": "aGVsbG8=", "proposalId": 0}`
	if rec := serve(s, "POST", "/api/vote", body, nil); rec.Code == http.StatusTooManyRequests {
		t.Fatal("first vote must not be rate limited")
	}
	if rec := serve(s, "POST", "/api/vote", body, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	// Reads are not limited.
	if rec := serve(s, "GET", "/api/proposals", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRoutes_MetricsRecordRoutePattern(t *testing.T) {
	s := newTestServer(t, &config.Config{})
	serve(s, "GET", "/api/voters/"+strings.Repeat("a", 64), "", nil)

	rec := serve(s, "GET", "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `route="/api/voters/{faceHash}"`) {
		t.Error("expected metrics labelled with the route pattern")
	}
}
