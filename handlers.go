package main

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/jobtracker/internal/auth"
	"github.com/example/jobtracker/internal/logger"
)

type creds struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type accountResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorDetails(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return false
	}
	return true
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var c creds
	if !decodeJSON(w, r, &c) {
		return
	}
	email, err := validateEmail(c.Email)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if err := validatePassword(c.Password); err != nil {
		writeValidationError(w, err)
		return
	}

	ref, err := a.auth.Register(r.Context(), email, c.Password)
	if err != nil {
		a.writeServiceError(w, r, err, "Account")
		return
	}
	logger.With(r.Context(), a.log).Info("account registered",
		zap.Int64("account_id", ref.ID),
		zap.String("email", logger.MaskEmail(ref.Email)),
	)
	a.writeJSON(w, r, http.StatusCreated, ref)
}

// loginCredentials accepts the OAuth2 password form (username, password)
// or a JSON body (email, password).
func loginCredentials(w http.ResponseWriter, r *http.Request) (creds, bool) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid form body")
			return creds{}, false
		}
		if ct == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid form body")
				return creds{}, false
			}
		}
		return creds{Email: r.PostFormValue("username"), Password: r.PostFormValue("password")}, true
	default:
		var c creds
		if !decodeJSON(w, r, &c) {
			return creds{}, false
		}
		return c, true
	}
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := loginCredentials(w, r)
	if !ok {
		return
	}
	if c.Email == "" || c.Password == "" {
		writeValidationError(w, invalid("username", "username and password are required"))
		return
	}

	token, err := a.auth.Login(r.Context(), c.Email, c.Password)
	switch {
	case err == nil:
		a.metrics.ObserveLogin("success")
	case errors.Is(err, auth.ErrRateLimited):
		a.metrics.ObserveLogin("throttled")
	case errors.Is(err, auth.ErrBadCredentials):
		a.metrics.ObserveLogin("bad_credentials")
	default:
		a.metrics.ObserveLogin("error")
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Account")
		return
	}
	a.writeJSON(w, r, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	acc := currentAccount(r.Context())
	a.writeJSON(w, r, http.StatusOK, accountResponse{
		ID:        acc.ID,
		Email:     acc.Email,
		IsActive:  acc.Active,
		CreatedAt: acc.CreatedAt,
	})
}

// HandleLogout revokes the presented access token until it expires.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenKey).(string)
	if err := a.guard.Revoke(r.Context(), token); err != nil {
		a.writeServiceError(w, r, err, "Token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
