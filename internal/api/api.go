// Package api implements APIController: translating the HTTP surface of
// spec.md §6.1 into calls against the collection core, and mapping the
// fixed error taxonomy of §7 onto stable status codes and JSON error
// bodies. Routing, middleware, and request/response shaping follow the
// teacher's server.go (chi + chi/middleware + go-chi/cors + bluemonday),
// generalized from its bespoke note-type API to this spec's deck/card/
// review/export surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/microcosm-cc/bluemonday"

	"github.com/emadruga/javumbo-sub001/internal/ankidb"
	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/authgate"
	"github.com/emadruga/javumbo-sub001/internal/authstore"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/collection"
	"github.com/emadruga/javumbo-sub001/internal/export"
	"github.com/emadruga/javumbo-sub001/internal/review"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

// sanitizePolicy mirrors the teacher's htmlPolicy: a UGC-safe HTML subset
// for user-supplied deck names and note field content.
var sanitizePolicy = bluemonday.UGCPolicy()

func sanitize(s string) string {
	return sanitizePolicy.Sanitize(s)
}

// Deps bundles everything a request handler needs. Handlers never reach
// outside this struct for collaborators, so tests can swap in a Manual
// clock and an in-memory UserStore.
type Deps struct {
	Users    authstore.UserStore
	Gate     *authgate.Gate
	Registry *session.Registry
	Clock    clock.Clock
	DataDir  string
	Review   *review.Service
	Export   *export.Service

	// userID resolves a username to its collection-file numeric id; in
	// production this delegates to Users, but tests can stub it directly.
	userID func(username string) (int64, error)

	// pendingCard tracks the card id GetReview last showed each username,
	// per spec.md §4.6 ("stores (card_id, note_id) in the caller's session
	// token for the subsequent answer"). /answer's request body carries no
	// card id (see spec.md §6.1's route table), so this is where the HTTP
	// layer keeps that association between the two calls.
	pendingMu   sync.Mutex
	pendingCard map[string]int64
}

// NewDeps wires the default collaborators together. dataDir must already
// exist or be creatable by the caller.
func NewDeps(users authstore.UserStore, gate *authgate.Gate, registry *session.Registry, c clock.Clock, dataDir string, reviewSvc *review.Service, exportSvc *export.Service) *Deps {
	d := &Deps{
		Users:       users,
		Gate:        gate,
		Registry:    registry,
		Clock:       c,
		DataDir:     dataDir,
		Review:      reviewSvc,
		Export:      exportSvc,
		pendingCard: make(map[string]int64),
	}
	d.userID = func(username string) (int64, error) {
		u, err := users.Lookup(username)
		if err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	return d
}

// PathFor returns the collection file path for username, per spec.md §6.3:
// <data_dir>/user_<userId>.<ext>.
func (d *Deps) PathFor(username string) string {
	id, err := d.userID(username)
	if err != nil {
		// Callers only reach PathFor after authentication has already
		// resolved the username via the same UserStore, so a lookup
		// failure here means the user vanished mid-request; fall back to
		// a path that will not exist rather than panic, surfacing as
		// CollectionMissing downstream.
		return filepath.Join(d.DataDir, "user_invalid.anki2")
	}
	return filepath.Join(d.DataDir, "user_"+strconv.FormatInt(id, 10)+".anki2")
}

// NewRouter builds the full chi router for the service, per spec.md §6.1.
func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Running"))
	})

	r.Post("/register", d.handleRegister)
	r.Post("/login", d.handleLogin)
	r.Post("/logout", d.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(d.requireAuth)

		r.Get("/decks", d.handleListDecks)
		r.Post("/decks", d.handleCreateDeck)
		r.Put("/decks/current", d.handleSetCurrentDeck)
		r.Delete("/decks/{id}", d.handleDeleteDeck)
		r.Put("/decks/{id}/rename", d.handleRenameDeck)
		r.Get("/decks/{id}/stats", d.handleDeckStats)
		r.Get("/decks/{id}/cards", d.handleListDeckCards)

		r.Get("/review", d.handleGetReview)
		r.Post("/answer", d.handleAnswer)

		r.Post("/add_card", d.handleAddCard)
		r.Get("/cards/{id}", d.handleGetCard)
		r.Put("/cards/{id}", d.handleUpdateCard)
		r.Delete("/cards/{id}", d.handleDeleteCard)

		r.Get("/export", d.handleExport)
	})

	return r
}

// --- auth context plumbing ---

type ctxKey int

const usernameKey ctxKey = 0

func withUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

func usernameFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(usernameKey).(string)
	return v, ok && v != ""
}

// requireAuth resolves the session token (Authorization: Bearer first, then
// the cookie) to a username via the Gate, per spec.md §1's AuthToken -> username
// contract. Every route except /, /register, /login, /logout requires it.
func (d *Deps) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(authgate.CookieName); err == nil {
				token = c.Value
			}
		}

		username, ok := d.Gate.Resolve(token)
		if !ok {
			writeError(w, apperr.New(apperr.AuthReq, apperr.MsgAuthRequired))
			return
		}

		next.ServeHTTP(w, r.WithContext(withUsername(r.Context(), username)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// --- response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a domain error onto the fixed status codes of spec.md
// §4.8/§7, emitting the stable message string the UI switches on.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.AuthReq:
		status = http.StatusUnauthorized
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Busy, apperr.Cancelled, apperr.Integrity, apperr.Internal:
		status = http.StatusInternalServerError
	}

	message := apperr.MsgInternal
	if de, ok := asDomainError(err); ok {
		message = de.Message
	}
	respondJSON(w, status, errorBody{Error: message})
}

func asDomainError(err error) (*apperr.Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if de, ok := err.(*apperr.Error); ok {
			return de, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.Validation, "Malformed request body", err)
	}
	return nil
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.Validation, "Invalid id", err)
	}
	return id, nil
}

// withRepo acquires username's session, runs fn against a CollectionRepo,
// and releases the lease, scheduling a flush iff dirty is true and fn
// succeeds. This is the only place handlers touch the SessionRegistry
// directly for repo-shaped operations; review/export go through their own
// services, which do the same acquire/release dance internally.
func (d *Deps) withRepo(ctx context.Context, username string, dirty bool, fn func(*collection.Repo) error) (err error) {
	lease, err := d.Registry.Acquire(ctx, username, d.PathFor(username))
	if err != nil {
		return err
	}

	defer func() {
		_ = d.Registry.ReleaseAfter(ctx, lease, dirty && err == nil, err)
	}()

	repo := collection.New(lease.Store, d.Clock)
	err = fn(repo)
	return err
}

func (d *Deps) setPendingCard(username string, cardID int64) {
	d.pendingMu.Lock()
	d.pendingCard[username] = cardID
	d.pendingMu.Unlock()
}

func (d *Deps) takePendingCard(username string) (int64, bool) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	id, ok := d.pendingCard[username]
	return id, ok
}

// ensureCollection creates a fresh .anki2 file for a newly registered user
// if one does not already exist, per spec.md §3.3.
func ensureCollection(path, displayName string, c clock.Clock) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return ankidb.Initialize(path, displayName, c)
}
