package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/faceid"
	"github.com/kozaktomas/face-ballot/internal/ledger/mock"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

var (
	testAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testStranger = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Ledger: config.LedgerConfig{
			ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		},
		Face: config.FaceConfig{
			Provider:       config.FaceProviderRemote,
			MatchThreshold: 0.6,
			MaxImageBytes:  1 << 20,
		},
	}
}

// stubEmbedder maps image bytes to fixed descriptors.
type stubEmbedder struct {
	mu      sync.Mutex
	faces   map[string]faceid.Descriptor
	initErr error
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{faces: make(map[string]faceid.Descriptor)}
}

// add registers a face and returns the base64 image that yields it.
func (s *stubEmbedder) add(image string, d faceid.Descriptor) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces[image] = d
	return base64.StdEncoding.EncodeToString([]byte(image))
}

func (s *stubEmbedder) Init(ctx context.Context) error {
	return s.initErr
}

func (s *stubEmbedder) Extract(ctx context.Context, image []byte) (faceid.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.faces[string(image)]
	if !ok {
		return nil, faceid.ErrNoFace
	}
	return d, nil
}

// testFace builds a deterministic descriptor; seeds a unit apart are far beyond any threshold.
func testFace(seed float32) faceid.Descriptor {
	d := make(faceid.Descriptor, faceid.DescriptorSize)
	for i := range d {
		d[i] = seed + float32(i)*0.001
	}
	return d
}

// ballotFixture wires a handler to an in-memory ledger.
type ballotFixture struct {
	handler  *BallotHandler
	ledger   *mock.MockLedger
	embedder *stubEmbedder
	session  *voting.Session
}

func newBallotFixture(t *testing.T) *ballotFixture {
	t.Helper()
	l := mock.NewMockLedger(testAdmin)
	l.Seed("Build a park", "Fix the roads")
	emb := newStubEmbedder()
	session := voting.NewSession(func(ctx context.Context) (*voting.Orchestrator, error) {
		if err := voting.VerifyAdmin(ctx, l); err != nil {
			return nil, err
		}
		return voting.New(emb, l, nil, voting.Options{}), nil
	})
	t.Cleanup(session.Close)
	return &ballotFixture{
		handler:  NewBallotHandler(testConfig(), session),
		ledger:   l,
		embedder: emb,
		session:  session,
	}
}

// jsonRequest creates a request with a JSON-encoded body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result ErrorResponse
	parseJSONResponse(t, recorder, &result)
	if result.Error != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result.Error)
	}
}

// assertErrorCode checks the machine-readable code of a JSON error
func assertErrorCode(t *testing.T, recorder *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	var result ErrorResponse
	parseJSONResponse(t, recorder, &result)
	if result.Code != expectedCode {
		t.Errorf("expected code '%s', got '%s' (error: %s)", expectedCode, result.Code, result.Error)
	}
}
