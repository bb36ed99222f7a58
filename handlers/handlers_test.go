package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"verifychain/anomaly"
	"verifychain/db"
	"verifychain/dispute"
	"verifychain/handlers"
	"verifychain/identity"
	"verifychain/ledger"
	"verifychain/logger"
	"verifychain/models"
	"verifychain/oracle"
	"verifychain/ratelimit"
	"verifychain/repository"
	"verifychain/routers"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router *mux.Router
	repo   *repository.LedgerRepository
	clock  *clock
}

const operatorToken = "op-secret"

type envOptions struct {
	limit          int
	production     bool
	trustedProxies []string
	// operatorToken overrides the default operator token; "-" disables it
	operatorToken string
	// wrap replaces the ledger seen by the oracle
	wrap func(ledger.Ledger) ledger.Ledger
}

func testServer(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger.Logger = zap.NewNop()

	ldb, err := db.NewMemLevelDB()
	if err != nil {
		t.Fatalf("failed to open leveldb: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })

	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	repo := repository.NewLedgerRepository(ldb).WithClock(c.Now)

	var oracleLedger ledger.Ledger = repo
	if opts.wrap != nil {
		oracleLedger = opts.wrap(repo)
	}
	o := oracle.New(oracleLedger, anomaly.NewDetector(anomaly.DefaultConfig()), oracle.DefaultConfig()).WithClock(c.Now)
	engine := dispute.NewEngine(repo, dispute.DefaultConfig()).WithClock(c.Now)

	resolver, err := identity.NewResolver(opts.trustedProxies)
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	handler := handlers.NewHandler(o, engine, repo, resolver, handlers.Options{Production: opts.production})

	if opts.limit == 0 {
		opts.limit = 100
	}
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), opts.limit, time.Minute)
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	limiter.WithClock(c.Now)

	token := operatorToken
	switch opts.operatorToken {
	case "":
	case "-":
		token = ""
	default:
		token = opts.operatorToken
	}

	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler, routers.NewAdmission(limiter, resolver, handler), routers.NewOperator(token))
	return &testEnv{router: router, repo: repo, clock: c}
}

func newRequest(method, path string, body any) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	return httptest.NewRequest(method, path, reader)
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	e.router.ServeHTTP(res, req)
	return res
}

func (e *testEnv) do(method, path string, body any, wallet string) *httptest.ResponseRecorder {
	req := newRequest(method, path, body)
	if wallet != "" {
		req.Header.Set(identity.WalletHeader, wallet)
	}
	return e.serve(req)
}

// operator sends a ledger registry request with the operator token.
func (e *testEnv) operator(method, path string, body any) *httptest.ResponseRecorder {
	req := newRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	return e.serve(req)
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := e.repo.RegisterManufacturer(ctx, &models.Manufacturer{Address: "0xmaker", Name: "Maker", Reputation: 100, Verified: true}); err != nil {
		t.Fatalf("seed manufacturer: %v", err)
	}
	if err := e.repo.RegisterProduct(ctx, &models.Product{ID: "P-1", Manufacturer: "0xmaker", Active: true}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, res *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(res.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid response body %q: %v", res.Body.String(), err)
	}
	return env
}

func TestVerify_Success(t *testing.T) {
	env := testServer(t, envOptions{})
	env.seed(t)

	res := env.do(http.MethodPost, "/api/verify", map[string]string{"productId": "P-1", "walletAddress": "0xCaller"}, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}
	if got := res.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Fatalf("expected X-RateLimit-Limit 100, got %q", got)
	}
	if got := res.Header().Get("X-RateLimit-Remaining"); got != "99" {
		t.Fatalf("expected X-RateLimit-Remaining 99, got %q", got)
	}

	body := decodeEnvelope(t, res)
	var result models.VerificationResult
	if err := json.Unmarshal(body.Data, &result); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if !body.Success || !result.IsAuthentic || result.ConfidenceScore != 100 {
		t.Fatalf("expected authentic verdict with score 100, got %+v", result)
	}
	if result.Requester != "0xcaller" {
		t.Fatalf("expected normalized requester, got %q", result.Requester)
	}
}

func TestVerify_GetQuery(t *testing.T) {
	env := testServer(t, envOptions{})
	env.seed(t)

	res := env.do(http.MethodGet, "/api/verify?productId=P-1", nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
}

func TestVerify_InvalidInput(t *testing.T) {
	env := testServer(t, envOptions{})

	for _, path := range []string{"/api/verify", "/api/verify?productId=" + strings.Repeat("x", 257)} {
		res := env.do(http.MethodGet, path, nil, "")
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", path, res.Code)
		}
		if body := decodeEnvelope(t, res); body.Success || body.Data != nil {
			t.Fatalf("%s: expected failure without data, got %s", path, res.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader("{not json"))
	res := httptest.NewRecorder()
	env.router.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", res.Code)
	}
}

func TestVerify_UnknownProduct(t *testing.T) {
	env := testServer(t, envOptions{})

	res := env.do(http.MethodGet, "/api/verify?productId=nope", nil, "")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", res.Code)
	}
}

func TestVerify_RateLimited(t *testing.T) {
	env := testServer(t, envOptions{limit: 2})
	env.seed(t)
	start := env.clock.Now()

	for i := 0; i < 2; i++ {
		res := env.do(http.MethodGet, "/api/verify?productId=P-1", nil, "")
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, res.Code)
		}
		env.clock.Advance(10 * time.Second)
	}

	res := env.do(http.MethodGet, "/api/verify?productId=P-1", nil, "")
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", res.Code)
	}
	if got := res.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("expected Retry-After 40, got %q", got)
	}
	if got := res.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining 0, got %q", got)
	}

	var body handlers.RateLimitedResponse
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Success || body.RetryAfterSeconds != 40 || !body.RetryAfter.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected rate limit body: %+v", body)
	}

	env.clock.Advance(41 * time.Second)
	if res := env.do(http.MethodGet, "/api/verify?productId=P-1", nil, ""); res.Code != http.StatusOK {
		t.Fatalf("expected status 200 after reset, got %d", res.Code)
	}
}

type slowLedger struct {
	ledger.Ledger
}

func (s slowLedger) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	time.Sleep(100 * time.Millisecond)
	return s.Ledger.GetProduct(ctx, id)
}

func TestVerify_LedgerTimeout(t *testing.T) {
	env := testServer(t, envOptions{wrap: func(l ledger.Ledger) ledger.Ledger {
		return ledger.WithTimeout(slowLedger{l}, 5*time.Millisecond)
	}})
	env.seed(t)

	res := env.do(http.MethodGet, "/api/verify?productId=P-1", nil, "")
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", res.Code)
	}
}

// orphanLedger hides every manufacturer, leaving products dangling.
type orphanLedger struct {
	ledger.Ledger
}

func (orphanLedger) GetManufacturer(context.Context, models.Identity) (*models.Manufacturer, error) {
	return nil, ledger.ErrNotFound
}

func TestVerify_ScoringFailureWithholdsDetailInProduction(t *testing.T) {
	wrap := func(l ledger.Ledger) ledger.Ledger { return orphanLedger{l} }

	env := testServer(t, envOptions{wrap: wrap, production: true})
	env.seed(t)
	res := env.do(http.MethodGet, "/api/verify?productId=P-1", nil, "")
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", res.Code)
	}
	if body := decodeEnvelope(t, res); body.Error != "internal error" || body.Data != nil {
		t.Fatalf("expected generic error without data, got %s", res.Body.String())
	}

	env = testServer(t, envOptions{wrap: wrap})
	env.seed(t)
	res = env.do(http.MethodGet, "/api/verify?productId=P-1", nil, "")
	if body := decodeEnvelope(t, res); !strings.Contains(body.Error, "unknown manufacturer") {
		t.Fatalf("expected diagnostic detail outside production, got %q", body.Error)
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t, envOptions{})

	cases := map[string]int{
		"/api/health?check=liveness":  http.StatusOK,
		"/api/health?check=readiness": http.StatusOK,
		"/api/health?check=bogus":     http.StatusBadRequest,
		"/api/health":                 http.StatusBadRequest,
	}
	for path, want := range cases {
		res := env.do(http.MethodGet, path, nil, "")
		if res.Code != want {
			t.Fatalf("%s: expected status %d, got %d", path, want, res.Code)
		}
	}
}

func TestDisputeLifecycle(t *testing.T) {
	env := testServer(t, envOptions{})
	env.seed(t)

	for _, id := range []string{"0xR", "0xV1", "0xV2", "0xV3"} {
		res := env.operator(http.MethodPost, "/ledger/stakes", map[string]any{"identity": id, "amount": 50})
		if res.Code != http.StatusOK {
			t.Fatalf("deposit %s: expected status 200, got %d, body: %s", id, res.Code, res.Body.String())
		}
	}

	res := env.do(http.MethodPost, "/api/disputes", map[string]any{"productId": "P-1", "stake": 10}, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without wallet, got %d", res.Code)
	}
	res = env.do(http.MethodPost, "/api/disputes", map[string]any{"productId": "P-1", "stake": 500}, "0xR")
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for insufficient stake, got %d", res.Code)
	}

	res = env.do(http.MethodPost, "/api/disputes", map[string]any{"productId": "P-1", "stake": 10, "reason": "fake hologram"}, "0xR")
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}
	var report models.CounterfeitReport
	if err := json.Unmarshal(decodeEnvelope(t, res).Data, &report); err != nil {
		t.Fatalf("invalid report: %v", err)
	}
	if report.Reporter != "0xr" || report.Status != models.ReportOpen {
		t.Fatalf("unexpected report: %+v", report)
	}

	res = env.do(http.MethodPost, "/api/disputes", map[string]any{"productId": "P-1", "stake": 10}, "0xV1")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for second open report, got %d", res.Code)
	}

	votesPath := "/api/disputes/" + report.ID + "/votes"
	for _, voter := range []string{"0xV1", "0xV2", "0xV3"} {
		res = env.do(http.MethodPost, votesPath, map[string]string{"choice": "uphold"}, voter)
		if res.Code != http.StatusCreated {
			t.Fatalf("vote %s: expected status 201, got %d, body: %s", voter, res.Code, res.Body.String())
		}
	}
	if res = env.do(http.MethodPost, votesPath, map[string]string{"choice": "reject"}, "0xV1"); res.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for duplicate vote, got %d", res.Code)
	}
	if res = env.do(http.MethodPost, votesPath, map[string]string{"choice": "abstain"}, "0xR"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid choice, got %d", res.Code)
	}

	resolvePath := "/api/disputes/" + report.ID + "/resolve"
	if res = env.do(http.MethodPost, resolvePath, nil, ""); res.Code != http.StatusConflict {
		t.Fatalf("expected status 409 while voting is open, got %d", res.Code)
	}

	env.clock.Advance(8 * 24 * time.Hour)
	if res = env.do(http.MethodPost, votesPath, map[string]string{"choice": "uphold"}, "0xR"); res.Code != http.StatusConflict {
		t.Fatalf("expected status 409 after voting closed, got %d", res.Code)
	}

	res = env.do(http.MethodPost, resolvePath, nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var resolution models.Resolution
	if err := json.Unmarshal(decodeEnvelope(t, res).Data, &resolution); err != nil {
		t.Fatalf("invalid resolution: %v", err)
	}
	if resolution.Outcome != models.ReportUpheld || resolution.Tally.UpholdWeight != 150 {
		t.Fatalf("unexpected resolution: %+v", resolution)
	}

	res = env.do(http.MethodGet, "/api/disputes/"+report.ID, nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var view dispute.ReportView
	if err := json.Unmarshal(decodeEnvelope(t, res).Data, &view); err != nil {
		t.Fatalf("invalid view: %v", err)
	}
	if len(view.Votes) != 3 || view.Resolution == nil || view.Report.Status != models.ReportUpheld {
		t.Fatalf("unexpected view: %+v", view)
	}

	if res = env.do(http.MethodGet, "/api/disputes/missing", nil, ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", res.Code)
	}
}

func TestRegistryAndJournal(t *testing.T) {
	env := testServer(t, envOptions{})

	res := env.operator(http.MethodPost, "/ledger/manufacturers", map[string]any{"address": "0xmaker", "name": "Maker", "reputation": 90, "verified": true})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}
	res = env.operator(http.MethodPost, "/ledger/manufacturers", map[string]any{"address": "0xmaker"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for duplicate manufacturer, got %d", res.Code)
	}

	res = env.operator(http.MethodPost, "/ledger/products", map[string]any{"id": "P-9", "manufacturer": "0xmaker", "active": true})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}
	res = env.operator(http.MethodPost, "/ledger/products", map[string]any{"id": "P-10", "manufacturer": "0xnobody"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown manufacturer, got %d", res.Code)
	}

	at := env.clock.Now().Add(-time.Hour)
	res = env.operator(http.MethodPost, "/ledger/products/P-9/transfers", map[string]any{"from": "0x0", "to": "0xshop", "timestamp": at})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}
	var transfer models.Transfer
	if err := json.Unmarshal(decodeEnvelope(t, res).Data, &transfer); err != nil {
		t.Fatalf("invalid transfer: %v", err)
	}
	if transfer.Seq != 1 || transfer.ProductID != "P-9" {
		t.Fatalf("unexpected transfer: %+v", transfer)
	}

	res = env.do(http.MethodGet, "/ledger/journal/verify", nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var status repository.JournalStatus
	if err := json.Unmarshal(decodeEnvelope(t, res).Data, &status); err != nil {
		t.Fatalf("invalid status: %v", err)
	}
	if !status.Valid || status.Entries != 3 {
		t.Fatalf("expected valid journal with 3 entries, got %+v", status)
	}
}

func TestVerify_RateLimitKeysOnClientBehindProxy(t *testing.T) {
	env := testServer(t, envOptions{limit: 2, trustedProxies: []string{"10.0.0.0/8"}})
	env.seed(t)

	admitted := 0
	for i := 0; i < 20; i++ {
		req := newRequest(http.MethodGet, "/api/verify?productId=P-1", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d, 203.0.113.7", i))
		if res := env.serve(req); res.Code == http.StatusOK {
			admitted++
		}
	}
	if admitted != 2 {
		t.Fatalf("expected 2 admitted requests for one client, got %d", admitted)
	}

	req := newRequest(http.MethodGet, "/api/verify?productId=P-1", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.8")
	if res := env.serve(req); res.Code != http.StatusOK {
		t.Fatalf("expected another client to be admitted, got %d", res.Code)
	}
}

func TestVerify_OversizedBody(t *testing.T) {
	env := testServer(t, envOptions{})
	env.seed(t)

	res := env.do(http.MethodPost, "/api/verify", map[string]any{"productId": strings.Repeat("P", 128<<10)}, "")
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", res.Code)
	}
}

func TestLedgerWrites_RequireOperatorToken(t *testing.T) {
	env := testServer(t, envOptions{})
	deposit := map[string]any{"identity": "0xmallory", "amount": 1000000}

	res := env.do(http.MethodPost, "/ledger/stakes", deposit, "0xmallory")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", res.Code)
	}

	req := newRequest(http.MethodPost, "/ledger/stakes", deposit)
	req.Header.Set("Authorization", "Bearer wrong")
	if res := env.serve(req); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with wrong token, got %d", res.Code)
	}

	res = env.do(http.MethodPost, "/ledger/manufacturers", map[string]any{"address": "0xfake", "reputation": 100, "verified": true}, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for manufacturer registration, got %d", res.Code)
	}

	balance, err := env.repo.GetStakeBalance(context.Background(), "0xmallory")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected no stake credited, got %d", balance)
	}
	if _, err := env.repo.GetManufacturer(context.Background(), "0xfake"); err == nil {
		t.Fatalf("expected manufacturer not to be registered")
	}

	res = env.operator(http.MethodPost, "/ledger/stakes", deposit)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200 with token, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestLedgerWrites_DisabledWithoutToken(t *testing.T) {
	env := testServer(t, envOptions{operatorToken: "-"})

	res := env.operator(http.MethodPost, "/ledger/stakes", map[string]any{"identity": "0xr", "amount": 5})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", res.Code)
	}
	if res := env.do(http.MethodGet, "/ledger/journal/verify", nil, ""); res.Code != http.StatusOK {
		t.Fatalf("expected journal verification to stay public, got %d", res.Code)
	}
}
