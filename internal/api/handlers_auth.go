package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/authgate"
)

type registerRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type registerResponse struct {
	UserID int64 `json:"userId"`
}

// handleRegister validates the registration payload per spec.md §6.1
// (username<=10, name<=40, password 10..20), creates the credential row,
// and seeds a fresh collection file for the new user.
func (d *Deps) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := validateRegister(req); err != nil {
		writeError(w, err)
		return
	}

	user, err := d.Users.Create(req.Username, sanitize(req.Name), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	path := filepath.Join(d.DataDir, "user_"+strconv.FormatInt(user.ID, 10)+".anki2")
	if err := ensureCollection(path, user.Name, d.Clock); err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, registerResponse{UserID: user.ID})
}

func validateRegister(req registerRequest) error {
	if len(req.Username) == 0 || len(req.Username) > 10 {
		return apperr.New(apperr.Validation, "Username must be 1..10 characters")
	}
	if len(req.Name) == 0 || len(req.Name) > 40 {
		return apperr.New(apperr.Validation, "Name must be 1..40 characters")
	}
	if len(req.Password) < 10 || len(req.Password) > 20 {
		return apperr.New(apperr.Validation, "Password must be 10..20 characters")
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginUser struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type loginResponse struct {
	User loginUser `json:"user"`
}

// handleLogin verifies credentials, issues a session token via the Gate,
// and sets it as a cookie; the token is not echoed in the body, so clients
// carry it through the cookie, matching the session-cookie carrier spec.md
// §6.1 documents.
func (d *Deps) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := d.Users.VerifyPassword(req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := d.Gate.Issue(user.Username)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, apperr.MsgInternal, err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authgate.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(w, http.StatusOK, loginResponse{User: loginUser{
		UserID:   user.ID,
		Username: user.Username,
		Name:     user.Name,
	}})
}

type messageResponse struct {
	Message string `json:"message"`
}

// handleLogout revokes the caller's session token and clears the cookie.
func (d *Deps) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(authgate.CookieName); err == nil {
			token = c.Value
		}
	}
	d.Gate.Revoke(token)

	http.SetCookie(w, &http.Cookie{
		Name:     authgate.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	respondJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}
