package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docinsight/internal/config"
	"docinsight/internal/extractor"
	"docinsight/internal/models"
	"docinsight/internal/ratelimit"
	"docinsight/internal/service/insight"
	"docinsight/internal/storage"
	"docinsight/internal/testutil"
	"docinsight/internal/uploads"
)

const cannedReply = `[KEY SENTENCES]
- Solid-state cells reach 500 Wh/kg.
- Pilot production starts next year.

[SUMMARY]
The document reports a solid-state battery breakthrough.

[KEYWORDS]
solid-state battery, electrolyte, energy density

[ECONOMIC IMPLICATIONS]
- Industrial ripple effects: EV range improves.
- Investment risk: Scale-up remains unproven.
`

type mockProvider struct {
	reply string
	err   error
	calls int
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.calls++
	return m.reply, m.err
}

type testServer struct {
	router   *gin.Engine
	provider *mockProvider
	store    *uploads.Store
}

func newTestServer(t *testing.T, provider *mockProvider, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ex, err := extractor.New(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	store, err := uploads.NewStore(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	analyzer := insight.New(provider, insight.Options{Timeout: time.Second})
	handler := NewHandler(ex, analyzer, store, opts)

	router, err := NewRouter(handler, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return &testServer{router: router, provider: provider, store: store}
}

func (s *testServer) upload(t *testing.T, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, newUploadRequest(t, path, filename, content))
	return rec
}

func newUploadRequest(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	} else if err := mw.WriteField("note", "no file"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (s *testServer) assertNoUploadsLeft(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(s.store.Dir())
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected upload dir to be empty, found %d entries", len(entries))
	}
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assertStatus(t, rec, status)
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, body.Code, body.Error)
	}
	if body.Error == "" {
		t.Fatalf("expected error message")
	}
}

func TestAnalyzeAPIDocx(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	doc := testutil.BuildDOCX([]string{"Solid-state cells reach 500 Wh/kg.", "Pilot production starts next year."})

	rec := srv.upload(t, "/api/analyze", "Battery Report.DOCX", doc)
	assertStatus(t, rec, http.StatusOK)

	var body struct {
		FileName             string   `json:"filename"`
		TextLength           int      `json:"text_length"`
		Provider             string   `json:"provider"`
		KeySentences         []string `json:"key_sentences"`
		Summary              string   `json:"summary"`
		Keywords             []string `json:"keywords"`
		EconomicImplications []string `json:"economic_implications"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.FileName != "Battery Report.DOCX" || body.Provider != "mock" {
		t.Fatalf("unexpected metadata: %+v", body)
	}
	wantLength := len("Solid-state cells reach 500 Wh/kg.\nPilot production starts next year.")
	if body.TextLength != wantLength {
		t.Fatalf("expected text length %d, got %d", wantLength, body.TextLength)
	}
	if len(body.KeySentences) != 2 || body.Summary == "" || len(body.Keywords) != 3 || len(body.EconomicImplications) != 2 {
		t.Fatalf("unexpected analysis: %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	if srv.provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", srv.provider.calls)
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzeAPIPdf(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	rec := srv.upload(t, "/api/analyze", "paper.pdf", testutil.BuildPDF("Quantum sensors improve yield"))
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "solid-state battery") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzeAPIRejectsUnsupportedFormat(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	rec := srv.upload(t, "/api/analyze", "notes.txt", []byte("plain text notes"))
	assertErrorCode(t, rec, http.StatusBadRequest, "unsupported_format")
	if srv.provider.calls != 0 {
		t.Fatalf("provider should not be called")
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzeAPIMissingFile(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	rec := srv.upload(t, "/api/analyze", "", nil)
	assertErrorCode(t, rec, http.StatusBadRequest, "missing_file")
}

func TestAnalyzeAPICorruptDocument(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})

	rec := srv.upload(t, "/api/analyze", "fake.pdf", []byte("this is plain text pretending to be a pdf"))
	assertErrorCode(t, rec, http.StatusUnprocessableEntity, "corrupt_document")

	// a real zip container without a document body passes sniffing and fails in the parser
	broken := bytes.Replace(testutil.BuildDOCX([]string{"x"}), []byte("word/document.xml"), []byte("word/documenX.xml"), -1)
	rec = srv.upload(t, "/api/analyze", "broken.docx", broken)
	assertErrorCode(t, rec, http.StatusUnprocessableEntity, "corrupt_document")

	if srv.provider.calls != 0 {
		t.Fatalf("provider should not be called")
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzeAPIEmptyDocument(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	rec := srv.upload(t, "/api/analyze", "blank.docx", testutil.BuildDOCX([]string{"   "}))
	assertErrorCode(t, rec, http.StatusUnprocessableEntity, "empty_document")
	if srv.provider.calls != 0 {
		t.Fatalf("provider should not be called for empty text")
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzeAPIUnparsableResponse(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: "Sorry, here is a free-form answer."}, Options{})
	rec := srv.upload(t, "/api/analyze", "memo.docx", testutil.BuildDOCX([]string{"Some text."}))
	assertErrorCode(t, rec, http.StatusBadGateway, "unparsable_response")
	if strings.Contains(rec.Body.String(), "free-form") {
		t.Fatalf("no partial results should be returned")
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzeAPIProviderFailure(t *testing.T) {
	provider := &mockProvider{err: errors.New("401 Unauthorized: invalid api key sk-secret-123")}
	srv := newTestServer(t, provider, Options{})
	rec := srv.upload(t, "/api/analyze", "memo.docx", testutil.BuildDOCX([]string{"Some text."}))
	assertErrorCode(t, rec, http.StatusBadGateway, "provider_unavailable")
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Fatalf("provider error leaked to client: %s", rec.Body.String())
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzeAPIFileTooLarge(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{MaxUploadBytes: 1024})
	big := testutil.BuildPDF(strings.Repeat("A", 4096))
	rec := srv.upload(t, "/api/analyze", "big.pdf", big)
	assertErrorCode(t, rec, http.StatusRequestEntityTooLarge, "file_too_large")
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzePageRendersResults(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	rec := srv.upload(t, "/analyze", "memo.docx", testutil.BuildDOCX([]string{"Some text."}))
	assertStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html, got %s", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"memo.docx", "solid-state battery breakthrough", "electrolyte", "Investment risk"} {
		if !strings.Contains(body, want) {
			t.Fatalf("page missing %q", want)
		}
	}
	srv.assertNoUploadsLeft(t)
}

func TestAnalyzePageRendersError(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	rec := srv.upload(t, "/analyze", "slides.pptx", []byte("PK"))
	assertStatus(t, rec, http.StatusBadRequest)
	body := rec.Body.String()
	if !strings.Contains(body, "Only PDF and DOCX files can be uploaded.") {
		t.Fatalf("page missing error message: %s", body)
	}
	if !strings.Contains(body, "<form") {
		t.Fatalf("error page should keep the upload form")
	}
}

func TestIndexHealthAndStatic(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})

	for _, tc := range []struct {
		path string
		want string
	}{
		{"/", "multipart/form-data"},
		{"/healthz", `"provider":"mock"`},
		{"/static/style.css", ".card"},
	} {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assertStatus(t, rec, http.StatusOK)
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("%s: body missing %q", tc.path, tc.want)
		}
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{Limiter: ratelimit.NewMemory(1, time.Minute)})
	doc := testutil.BuildDOCX([]string{"Some text."})

	assertStatus(t, srv.upload(t, "/api/analyze", "memo.docx", doc), http.StatusOK)
	rec := srv.upload(t, "/api/analyze", "memo.docx", doc)
	assertErrorCode(t, rec, http.StatusTooManyRequests, "rate_limited")
	if srv.provider.calls != 1 {
		t.Fatalf("limited request should not reach the provider")
	}
}

func TestAnalyzeRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{Limiter: ratelimit.NewMemory(1, time.Minute)})
	doc := testutil.BuildDOCX([]string{"Some text."})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests} {
		req := newUploadRequest(t, "/api/analyze", "memo.docx", doc)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assertStatus(t, rec, want)
	}
	if srv.provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", srv.provider.calls)
	}
}

func TestNewRouterHonoursConfiguredProxies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := uploads.NewStore(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ex, err := extractor.New(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	provider := &mockProvider{reply: cannedReply}
	handler := NewHandler(ex, insight.New(provider, insight.Options{}), store, Options{Limiter: ratelimit.NewMemory(1, time.Minute)})

	// httptest requests come from 192.0.2.1.
	router, err := NewRouter(handler, []string{"192.0.2.0/24"})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	doc := testutil.BuildDOCX([]string{"Some text."})
	for i := 0; i < 2; i++ {
		req := newUploadRequest(t, "/api/analyze", "memo.docx", doc)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assertStatus(t, rec, http.StatusOK)
	}

	if _, err := NewRouter(handler, []string{"not-an-ip"}); err == nil {
		t.Fatalf("expected invalid proxy to be rejected")
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthPingsRedis(t *testing.T) {
	for _, tc := range []struct {
		name   string
		pinger fakePinger
		status int
		want   string
	}{
		{"reachable", fakePinger{}, http.StatusOK, `"redis":"ok"`},
		{"unreachable", fakePinger{err: errors.New("dial tcp: connection refused")}, http.StatusServiceUnavailable, `"status":"degraded"`},
	} {
		srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{Redis: tc.pinger})
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tc.status || !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("%s: unexpected health response %d %s", tc.name, rec.Code, rec.Body.String())
		}
	}
}

func TestUsageEndpoint(t *testing.T) {
	disabled := newTestServer(t, &mockProvider{reply: cannedReply}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	rec := httptest.NewRecorder()
	disabled.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusNotFound)

	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	srv := newTestServer(t, &mockProvider{reply: cannedReply}, Options{Usage: storage.NewUsageLog(db)})
	assertStatus(t, srv.upload(t, "/api/analyze", "memo.docx", testutil.BuildDOCX([]string{"Some text."})), http.StatusOK)
	srv.upload(t, "/api/analyze", "notes.txt", []byte("plain"))

	req = httptest.NewRequest(http.MethodGet, "/api/usage?limit=10", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusOK)

	var body struct {
		Records []models.UsageRecord `json:"records"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if len(body.Records) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(body.Records))
	}
	outcomes := map[string]bool{}
	for _, r := range body.Records {
		outcomes[r.Outcome] = true
		if r.RequestID == "" {
			t.Fatalf("expected request id on usage record")
		}
	}
	if !outcomes["ok"] || !outcomes["unsupported_format"] {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}

func TestClassifyProviderTimeout(t *testing.T) {
	err := fmt.Errorf("%w: %w", insight.ErrProviderUnavailable, context.DeadlineExceeded)
	got := classify(err)
	if got.Status != http.StatusGatewayTimeout || got.Code != "provider_unavailable" {
		t.Fatalf("unexpected classification %+v", got)
	}
	if !strings.Contains(got.Message, "request timed out") {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestSanitizeProviderError(t *testing.T) {
	cases := map[string]string{
		"connection refused to api.openai.com:443": "provider temporarily unavailable",
		"invalid API key: sk-proj-xxxxx":           "authentication failed with provider",
		"429 Too Many Requests: rate limit":        "rate limit exceeded",
		"insufficient_quota":                       "quota exceeded",
	}
	for input, want := range cases {
		if got := sanitizeProviderError(errors.New(input)); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", input, got, want)
		}
	}
	if sanitizeProviderError(nil) != "" {
		t.Fatalf("nil error should sanitize to empty string")
	}
}
