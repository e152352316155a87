package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/clamctl/internal/auth"
	"github.com/danmuck/clamctl/internal/clamd"
	"github.com/danmuck/clamctl/internal/scancache"
	"github.com/danmuck/clamctl/internal/testutil/testlog"
)

type fakeScanner struct {
	pingErr    error
	version    clamd.Version
	versionErr error
	streamRes  clamd.ScanResult
	streamErr  error
	pathRes    clamd.ScanResult
	pathErr    error

	mu          sync.Mutex
	streamCalls int
	pathCalls   []string
	lastPayload []byte
}

func (f *fakeScanner) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeScanner) Version(ctx context.Context) (clamd.Version, error) {
	return f.version, f.versionErr
}

func (f *fakeScanner) ScanStream(ctx context.Context, data io.Reader) (clamd.ScanResult, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return clamd.ScanResult{}, err
	}
	f.mu.Lock()
	f.streamCalls++
	f.lastPayload = payload
	f.mu.Unlock()
	return f.streamRes, f.streamErr
}

func (f *fakeScanner) ScanPath(ctx context.Context, path string) (clamd.ScanResult, error) {
	f.mu.Lock()
	f.pathCalls = append(f.pathCalls, path)
	f.mu.Unlock()
	return f.pathRes, f.pathErr
}

func (f *fakeScanner) Close() error { return nil }

func (f *fakeScanner) streams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls
}

type fakePublisher struct {
	mu      sync.Mutex
	err     error
	reports []ScanReport
}

func (f *fakePublisher) PublishVerdict(report ScanReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakePublisher) Close() {}

func (f *fakePublisher) published() []ScanReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ScanReport(nil), f.reports...)
}

func newTestService(t *testing.T, cfg Config, scanner Scanner, cache scancache.Cache, events Publisher) *Service {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	return NewService(cfg, scanner, cache, events, zerolog.Nop())
}

func postScan(t *testing.T, svc *Service, body []byte, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	if key != "" {
		req.Header.Set(auth.HeaderAPIKey, key)
	}
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) ScanReport {
	t.Helper()
	var report ScanReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v (body=%s)", err, rec.Body.String())
	}
	return report
}

func TestScanEndpointCleanVerdict(t *testing.T) {
	scanner := &fakeScanner{streamRes: clamd.ScanResult{Status: clamd.StatusClean}}
	events := &fakePublisher{}
	svc := newTestService(t, Config{}, scanner, nil, events)

	body := []byte("clean text content")
	rec := postScan(t, svc, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	report := decodeReport(t, rec)
	if report.Status != "clean" || report.Cached {
		t.Fatalf("report mismatch: %+v", report)
	}
	if report.Digest != scancache.Digest(body) {
		t.Fatalf("digest mismatch: %q", report.Digest)
	}
	if report.ScanID == "" {
		t.Fatalf("scan id missing")
	}
	if report.Size != int64(len(body)) {
		t.Fatalf("size mismatch: %d", report.Size)
	}
	if got := events.published(); len(got) != 1 || got[0].ScanID != report.ScanID {
		t.Fatalf("verdict event mismatch: %+v", got)
	}
}

func TestScanEndpointInfectedVerdict(t *testing.T) {
	scanner := &fakeScanner{streamRes: clamd.ScanResult{Status: clamd.StatusInfected, Signature: "Win.Test.EICAR_HDB-1"}}
	svc := newTestService(t, Config{}, scanner, nil, nil)

	rec := postScan(t, svc, []byte("payload"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	report := decodeReport(t, rec)
	if report.Status != "infected" || report.Signature != "Win.Test.EICAR_HDB-1" {
		t.Fatalf("report mismatch: %+v", report)
	}
}

func TestScanEndpointCacheHit(t *testing.T) {
	scanner := &fakeScanner{streamRes: clamd.ScanResult{Status: clamd.StatusClean}}
	cache := scancache.NewMemory(0)
	svc := newTestService(t, Config{}, scanner, cache, nil)

	body := []byte("identical bytes both times")
	first := decodeReport(t, postScan(t, svc, body, ""))
	if first.Cached {
		t.Fatalf("first scan should miss the cache")
	}
	second := decodeReport(t, postScan(t, svc, body, ""))
	if !second.Cached {
		t.Fatalf("second scan should hit the cache")
	}
	if second.ScanID != first.ScanID {
		t.Fatalf("cache hit must return the original scan id")
	}
	if scanner.streams() != 1 {
		t.Fatalf("daemon consulted on cache hit: %d scans", scanner.streams())
	}
}

func TestScanEndpointErroredVerdictNotCached(t *testing.T) {
	scanner := &fakeScanner{streamRes: clamd.ScanResult{Status: clamd.StatusError, Message: "INSTREAM size limit exceeded."}}
	cache := scancache.NewMemory(0)
	svc := newTestService(t, Config{}, scanner, cache, nil)

	body := []byte("always errors")
	first := decodeReport(t, postScan(t, svc, body, ""))
	if first.Status != "error" || first.Detail == "" {
		t.Fatalf("report mismatch: %+v", first)
	}
	_ = decodeReport(t, postScan(t, svc, body, ""))
	if scanner.streams() != 2 {
		t.Fatalf("errored verdict was cached: %d scans", scanner.streams())
	}
}

func TestScanEndpointRejectsEmptyPayload(t *testing.T) {
	svc := newTestService(t, Config{}, &fakeScanner{}, nil, nil)
	rec := postScan(t, svc, nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestScanEndpointPayloadTooLarge(t *testing.T) {
	svc := newTestService(t, Config{MaxScanBytes: 8}, &fakeScanner{}, nil, nil)
	rec := postScan(t, svc, []byte("way past the eight byte limit"), "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestScanEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"transport", &clamd.TransportError{Op: "read", Err: io.ErrUnexpectedEOF}, http.StatusServiceUnavailable},
		{"protocol", &clamd.ProtocolError{Command: "INSTREAM", Message: "garbled"}, http.StatusBadGateway},
		{"cancelled", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		scanner := &fakeScanner{streamErr: tc.err}
		svc := newTestService(t, Config{}, scanner, nil, nil)
		rec := postScan(t, svc, []byte("payload"), "")
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rec.Code)
		}
	}
}

func TestScanEndpointMultipartUpload(t *testing.T) {
	scanner := &fakeScanner{streamRes: clamd.ScanResult{Status: clamd.StatusClean}}
	svc := newTestService(t, Config{}, scanner, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "sample.bin")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	payload := []byte("multipart payload bytes")
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/scan", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(scanner.lastPayload, payload) {
		t.Fatalf("daemon payload mismatch: %q", scanner.lastPayload)
	}
}

func TestScanPathEndpoint(t *testing.T) {
	scanner := &fakeScanner{pathRes: clamd.ScanResult{Status: clamd.StatusClean}}
	svc := newTestService(t, Config{}, scanner, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/scan/path", strings.NewReader(`{"path":"/srv/files/report.pdf"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	report := decodeReport(t, rec)
	if report.Source != "path" || report.Status != "clean" {
		t.Fatalf("report mismatch: %+v", report)
	}
	if len(scanner.pathCalls) != 1 || scanner.pathCalls[0] != "/srv/files/report.pdf" {
		t.Fatalf("path not forwarded: %v", scanner.pathCalls)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/scan/path", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing path: expected 400, got %d", rec.Code)
	}
}

func TestPingAndVersionEndpoints(t *testing.T) {
	scanner := &fakeScanner{version: clamd.Version{Program: "ClamAV 1.4.3", Database: "27646"}}
	svc := newTestService(t, Config{}, scanner, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ping: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("version: expected 200, got %d", rec.Code)
	}
	var v struct {
		Program  string `json:"program"`
		Database string `json:"database"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if v.Program != "ClamAV 1.4.3" || v.Database != "27646" {
		t.Fatalf("version mismatch: %+v", v)
	}
}

func TestReadyEndpointReflectsDaemon(t *testing.T) {
	scanner := &fakeScanner{}
	svc := newTestService(t, Config{}, scanner, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	scanner.pingErr = &clamd.TransportError{Op: "dial", Err: io.EOF}
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAPIKeyGuardsScanRoutes(t *testing.T) {
	scanner := &fakeScanner{streamRes: clamd.ScanResult{Status: clamd.StatusClean}}
	svc := newTestService(t, Config{APIKey: "sesame"}, scanner, nil, nil)

	rec := postScan(t, svc, []byte("payload"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: expected 401, got %d", rec.Code)
	}
	rec = postScan(t, svc, []byte("payload"), "sesame")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid key: expected 200, got %d", rec.Code)
	}

	// Health stays open for probes.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	probe := httptest.NewRecorder()
	svc.Router().ServeHTTP(probe, req)
	if probe.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", probe.Code)
	}
}

func TestPublishFailureDoesNotFailScan(t *testing.T) {
	scanner := &fakeScanner{streamRes: clamd.ScanResult{Status: clamd.StatusClean}}
	events := &fakePublisher{err: io.ErrClosedPipe}
	svc := newTestService(t, Config{}, scanner, nil, events)

	rec := postScan(t, svc, []byte("payload"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite publish failure, got %d", rec.Code)
	}
}
