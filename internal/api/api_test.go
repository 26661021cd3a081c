package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/emadruga/javumbo-sub001/internal/authgate"
	"github.com/emadruga/javumbo-sub001/internal/authstore"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/export"
	"github.com/emadruga/javumbo-sub001/internal/review"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

type testClient struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	dataDir := t.TempDir()
	c := clock.NewManual(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))

	users, err := authstore.NewSQLiteUserStore(filepath.Join(dataDir, "users.db"))
	if err != nil {
		t.Fatalf("NewSQLiteUserStore: %v", err)
	}
	t.Cleanup(func() { users.Close() })

	gate := authgate.New()
	registry := session.New(session.DefaultOptions(), c)
	t.Cleanup(registry.Stop)

	deps := NewDeps(users, gate, registry, c, dataDir, nil, nil)
	pathFor := deps.PathFor
	reviewSvc := review.New(registry, pathFor, c)
	exportSvc := export.New(registry, pathFor, c, dataDir, 6)
	deps.Review = reviewSvc
	deps.Export = exportSvc

	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	return &testClient{t: t, base: server.URL, client: &http.Client{Jar: jar}}
}

func (tc *testClient) do(method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	tc.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			tc.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, tc.base+path, reader)
	if err != nil {
		tc.t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		tc.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var parsed map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return resp, parsed
}

func TestAPI_RegisterLoginAddCardReviewAnswerExport(t *testing.T) {
	tc := newTestClient(t)

	resp, body := tc.do(http.MethodPost, "/register", map[string]string{
		"username": "ada",
		"name":     "Ada Lovelace",
		"password": "correct-horse",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%v)", resp.StatusCode, body)
	}

	resp, _ = tc.do(http.MethodPost, "/login", map[string]string{
		"username": "ada",
		"password": "correct-horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}

	resp, body = tc.do(http.MethodGet, "/decks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decks: expected 200, got %d (%v)", resp.StatusCode, body)
	}

	resp, body = tc.do(http.MethodPost, "/add_card", map[string]string{
		"front": "bonjour",
		"back":  "hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add_card: expected 201, got %d (%v)", resp.StatusCode, body)
	}

	resp, review := tc.do(http.MethodGet, "/review", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review: expected 200, got %d (%v)", resp.StatusCode, review)
	}
	if _, ok := review["cardId"]; !ok {
		t.Fatalf("expected a due card in the review response, got %v", review)
	}

	resp, answer := tc.do(http.MethodPost, "/answer", map[string]interface{}{
		"ease":      3,
		"timeTaken": 1500,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer: expected 200, got %d (%v)", resp.StatusCode, answer)
	}

	resp, _ = tc.do(http.MethodGet, "/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("expected application/zip content type, got %q", ct)
	}
}

func TestAPI_RequiresAuthForProtectedRoutes(t *testing.T) {
	tc := newTestClient(t)

	resp, body := tc.do(http.MethodGet, "/decks", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated /decks, got %d (%v)", resp.StatusCode, body)
	}
}

func TestAPI_RegisterRejectsShortPassword(t *testing.T) {
	tc := newTestClient(t)

	resp, body := tc.do(http.MethodPost, "/register", map[string]string{
		"username": "bob",
		"name":     "Bob",
		"password": "short",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a too-short password, got %d (%v)", resp.StatusCode, body)
	}
}

func TestAPI_LoginRejectsWrongPassword(t *testing.T) {
	tc := newTestClient(t)

	tc.do(http.MethodPost, "/register", map[string]string{
		"username": "carol",
		"name":     "Carol",
		"password": "correct-horse",
	})

	resp, body := tc.do(http.MethodPost, "/login", map[string]string{
		"username": "carol",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong password, got %d (%v)", resp.StatusCode, body)
	}
}

func TestAPI_CreateDeckRejectsDuplicateName(t *testing.T) {
	tc := newTestClient(t)
	tc.do(http.MethodPost, "/register", map[string]string{
		"username": "dina",
		"name":     "Dina",
		"password": "correct-horse",
	})
	tc.do(http.MethodPost, "/login", map[string]string{
		"username": "dina",
		"password": "correct-horse",
	})

	resp, _ := tc.do(http.MethodPost, "/decks", map[string]string{"name": "Spanish"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating a deck, got %d", resp.StatusCode)
	}

	resp, body := tc.do(http.MethodPost, "/decks", map[string]string{"name": "Spanish"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate deck name, got %d (%v)", resp.StatusCode, body)
	}
}
