package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"waveline/internal/config"
	"waveline/internal/db"
	"waveline/internal/engine"
	"waveline/internal/events"
	"waveline/internal/migrate"
	"waveline/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(workspace)
	r := repo.Repo{DB: conn}
	eng := engine.New(r, events.Writer{DB: conn}, cfg)
	handler, err := New(Config{Engine: eng, Repo: &r, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func mintToken(t *testing.T, actor string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   actor,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, ts *testServer, actor, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("Authorization", "Bearer "+mintToken(t, actor))
	}
	res, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope %s: %v", data, err)
	}
	return envelope.Error.Code
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	res, data := doJSON(t, ts, "", http.MethodGet, "/v0/epics", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (%s)", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %s, want unauthorized", code)
	}

	// Health stays open.
	res, _ = doJSON(t, ts, "", http.MethodGet, "/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}
}

func TestEpicItemLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	res, data := doJSON(t, ts, "lead", http.MethodPost, "/v0/epics", CreateEpicRequest{Title: "search revamp", Waves: 2})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create epic status = %d (%s)", res.StatusCode, data)
	}
	var ep EpicResponse
	if err := json.Unmarshal(data, &ep); err != nil {
		t.Fatalf("decode epic: %v", err)
	}

	res, data = doJSON(t, ts, "lead", http.MethodPost, fmt.Sprintf("/v0/epics/%d/items", ep.Number),
		CreateItemRequest{Wave: "1", Title: "index rebuild"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item status = %d (%s)", res.StatusCode, data)
	}
	var item ItemResponse
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.Phase != "ready" {
		t.Fatalf("phase = %s, want ready", item.Phase)
	}

	res, data = doJSON(t, ts, "alice", http.MethodPost, fmt.Sprintf("/v0/items/%d/claim", item.Number), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d (%s)", res.StatusCode, data)
	}

	// Second claimant loses with a conflict.
	res, data = doJSON(t, ts, "bob", http.MethodPost, fmt.Sprintf("/v0/items/%d/claim", item.Number), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second claim status = %d (%s)", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "already_claimed" {
		t.Fatalf("code = %s, want already_claimed", code)
	}

	res, data = doJSON(t, ts, "alice", http.MethodPost, fmt.Sprintf("/v0/items/%d/scope", item.Number),
		DeclareScopeRequest{Claimed: []string{"internal/index/build.go"}})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("declare scope status = %d (%s)", res.StatusCode, data)
	}

	res, data = doJSON(t, ts, "alice", http.MethodPost, fmt.Sprintf("/v0/items/%d/transitions", item.Number),
		TransitionRequest{From: "claimed", To: "dev_open"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status = %d (%s)", res.StatusCode, data)
	}

	// Skipping states is refused with the envelope.
	res, data = doJSON(t, ts, "alice", http.MethodPost, fmt.Sprintf("/v0/items/%d/transitions", item.Number),
		TransitionRequest{From: "dev_open", To: "review_open"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("skip status = %d (%s)", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "illegal_transition" {
		t.Fatalf("code = %s, want illegal_transition", code)
	}

	// Wave 2 item is not claimable yet.
	res, data = doJSON(t, ts, "lead", http.MethodPost, fmt.Sprintf("/v0/epics/%d/items", ep.Number),
		CreateItemRequest{Wave: "2", Title: "query planner"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create wave-2 item status = %d (%s)", res.StatusCode, data)
	}
	var second ItemResponse
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, ts, "bob", http.MethodPost, fmt.Sprintf("/v0/items/%d/claim", second.Number), nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("early claim status = %d (%s)", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "wave_not_eligible" {
		t.Fatalf("code = %s, want wave_not_eligible", code)
	}
}

func TestVerdictOutsideReviewOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, data := doJSON(t, ts, "lead", http.MethodPost, "/v0/epics", CreateEpicRequest{Title: "cleanup", Waves: 1})
	var ep EpicResponse
	if err := json.Unmarshal(data, &ep); err != nil {
		t.Fatal(err)
	}
	_, data = doJSON(t, ts, "lead", http.MethodPost, fmt.Sprintf("/v0/epics/%d/items", ep.Number),
		CreateItemRequest{Wave: "1", Title: "drop dead code"})
	var item ItemResponse
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatal(err)
	}
	if res, _ := doJSON(t, ts, "alice", http.MethodPost, fmt.Sprintf("/v0/items/%d/claim", item.Number), nil); res.StatusCode != http.StatusOK {
		t.Fatalf("claim failed: %d", res.StatusCode)
	}

	res, data := doJSON(t, ts, "bob", http.MethodPost, fmt.Sprintf("/v0/items/%d/verdicts", item.Number),
		VerdictRequest{Result: "PASS"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d (%s)", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "verdict_outside_review" {
		t.Fatalf("code = %s, want verdict_outside_review", code)
	}

	res, data = doJSON(t, ts, "bob", http.MethodGet, fmt.Sprintf("/v0/items/%d/violations", item.Number), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list violations status = %d (%s)", res.StatusCode, data)
	}
	var vs []ViolationResponse
	if err := json.Unmarshal(data, &vs); err != nil {
		t.Fatal(err)
	}
	if len(vs) != 1 || vs[0].Kind != "verdict-outside-review" {
		t.Fatalf("violations = %+v, want one verdict-outside-review", vs)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	_, data := doJSON(t, ts, "lead", http.MethodPost, "/v0/epics", CreateEpicRequest{Title: "observed", Waves: 1})
	var ep EpicResponse
	if err := json.Unmarshal(data, &ep); err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, ts, "lead", http.MethodGet, "/v0/events?type=epic.created", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d (%s)", res.StatusCode, data)
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "epic.created" {
		t.Fatalf("events = %+v, want one epic.created", evts)
	}
}
