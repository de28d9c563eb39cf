package httpapi

import (
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
)

// signInPage is the hosted sign-in form. The platform opens it in an
// external browser; on success the browser is redirected back to the
// loopback callback with a one-shot code.
var signInPage = template.Must(template.New("signin").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p style="color:#b00">{{.Error}}</p>{{end}}
<form method="post" action="/v1/auth/authorize">
  <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
  <input type="hidden" name="code_challenge" value="{{.Challenge}}">
  <label>Email <input type="email" name="email" required></label><br>
  <label>Password <input type="password" name="password" required></label><br>
  <button type="submit">Sign in</button>
</form>
</body>
</html>`))

type signInView struct {
	RedirectURI string
	Challenge   string
	Error       string
}

// handleSignInPage renders the hosted sign-in form.
func (s *Server) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := signInView{
		RedirectURI: q.Get("redirect_uri"),
		Challenge:   q.Get("code_challenge"),
	}
	if view.RedirectURI == "" || view.Challenge == "" {
		writeError(w, http.StatusBadRequest, "redirect_uri and code_challenge are required")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = signInPage.Execute(w, view)
}

// handleAuthorize processes the sign-in form and redirects back to the
// caller's loopback callback with an authorization code.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad form")
		return
	}
	redirectURI := r.PostFormValue("redirect_uri")
	view := signInView{
		RedirectURI: redirectURI,
		Challenge:   r.PostFormValue("code_challenge"),
	}

	code, err := s.auth.Authorize(r.Context(),
		r.PostFormValue("email"), r.PostFormValue("password"),
		remoteIP(r), redirectURI, view.Challenge)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrUnauthorized):
			view.Error = "Wrong email or password."
		case errors.Is(err, errs.ErrRateLimited):
			view.Error = "Too many attempts, try again later."
		case errors.Is(err, errs.ErrInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		default:
			view.Error = "Something went wrong, try again."
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = signInPage.Execute(w, view)
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad redirect_uri")
		return
	}
	q := target.Query()
	q.Set("code", code)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister creates a new account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	userID, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeSentinel(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": userID})
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	RefreshToken string `json:"refresh_token"`
}

// handleToken implements the two token grants: the one-shot code exchange
// and refresh rotation.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	switch req.GrantType {
	case "authorization_code":
		sess, err := s.auth.Exchange(r.Context(), req.Code, req.CodeVerifier, req.RedirectURI)
		if err != nil {
			s.writeSentinel(w, err)
			return
		}
		writeSession(w, sess)
	case "refresh_token":
		sess, err := s.auth.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			s.writeSentinel(w, err)
			return
		}
		writeSession(w, sess)
	default:
		writeError(w, http.StatusBadRequest, "unsupported grant_type")
	}
}

// handleLogout revokes the refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeSentinel(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUser returns the authenticated account.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no auth")
		return
	}
	u, err := s.auth.GetUser(r.Context(), userID)
	if err != nil {
		s.writeSentinel(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    u.ID.String(),
		"email": u.Email,
	})
}

// sessionResponse is the token wire shape consumed by sync engines.
type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func writeSession(w http.ResponseWriter, sess model.Session) {
	var resp sessionResponse
	resp.AccessToken = sess.AccessToken
	resp.RefreshToken = sess.RefreshToken
	resp.ExpiresAt = sess.ExpiresAt
	resp.User.ID = sess.UserID.String()
	resp.User.Email = sess.Email
	writeJSON(w, http.StatusOK, resp)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
