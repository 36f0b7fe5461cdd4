package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/samber/lo"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var idTokenCookieKey = "ID_TOKEN"
var refreshTokenCookieKey = "REFRESH_TOKEN"

const roleClaimKey = "role"

var (
	SessionCtxKey = &contextKey{"Session"}
)

type contextKey struct {
	name string
}

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	IdToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	UserID       string `json:"userId"`
	Email        string `json:"email"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	input := loginInput{}
	if err := decodeJSON(r, &input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if input.Email == "" || input.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	resp, err := s.authClient.SignInWithEmailAndPassword(r.Context(), input.Email, input.Password)
	if err != nil {
		s.logger.Error("failed to login", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if resp.Error != nil {
		http.Error(w, resp.Error.Message, http.StatusUnauthorized)
		return
	}

	s.setAuthCookies(w, resp.IdToken, resp.RefreshToken)
	jsonResponse(w, http.StatusOK, loginResponse{
		IdToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		UserID:       resp.LocalId,
		Email:        resp.Email,
	})
}

type refreshTokenInput struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	input := refreshTokenInput{}
	if err := decodeJSON(r, &input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	refreshToken := input.RefreshToken
	if refreshToken == "" {
		if cookie, ok := lo.Find(r.Cookies(), func(c *http.Cookie) bool { return c.Name == refreshTokenCookieKey }); ok {
			refreshToken = cookie.Value
		}
	}
	if refreshToken == "" {
		http.Error(w, "no refresh token", http.StatusBadRequest)
		return
	}

	resp, err := s.authClient.RefreshIdToken(r.Context(), refreshToken)
	if err != nil {
		s.logger.Error("failed to refresh token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if resp.Error != nil {
		http.Error(w, resp.Error.Message, http.StatusUnauthorized)
		return
	}

	s.setAuthCookies(w, resp.IdToken, resp.RefreshToken)
	jsonResponse(w, http.StatusOK, loginResponse{
		IdToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		UserID:       resp.UserId,
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   idTokenCookieKey,
		Value:  "",
		MaxAge: -1,
	})
	http.SetCookie(w, &http.Cookie{
		Name:   refreshTokenCookieKey,
		Value:  "",
		MaxAge: -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) setAuthCookies(w http.ResponseWriter, idToken string, refreshToken string) {
	// 5 days
	cookieExpires := time.Now().Add(5 * 24 * time.Hour)
	http.SetCookie(w, &http.Cookie{
		Name:     idTokenCookieKey,
		Value:    idToken,
		Expires:  cookieExpires,
		HttpOnly: true,
		Secure:   true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookieKey,
		Value:    refreshToken,
		Expires:  cookieExpires,
		HttpOnly: true,
		Secure:   true,
	})
}

// rawIdToken pulls the ID token from the Authorization header (mobile
// clients), the token query parameter (websocket clients) or the session
// cookie, in that order.
func rawIdToken(r *http.Request) string {
	authorizationHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authorizationHeader, "Bearer ") {
		return strings.TrimPrefix(authorizationHeader, "Bearer ")
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, ok := lo.Find(r.Cookies(), func(c *http.Cookie) bool { return c.Name == idTokenCookieKey }); ok {
		return cookie.Value
	}
	return ""
}

func (s *server) firebaseJwtVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken := rawIdToken(r)
		if rawToken == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		authn, err := s.app.Auth(ctx)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			s.logger.Error("failed to get firebase auth", "error", err)
			return
		}

		token, err := authn.VerifyIDToken(ctx, rawToken)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		ctx = NewSessionContext(ctx, sessionFromToken(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromToken(token *auth.Token) domain.Session {
	role := domain.RoleStudent
	if getClaim(token, roleClaimKey) == "admin" {
		role = domain.RoleAdmin
	}
	return domain.Session{UserID: token.UID, Role: role}
}

func getClaim(token *auth.Token, key string) string {
	val, ok := token.Claims[key]
	if !ok {
		return ""
	}
	valStr, ok := val.(string)
	if !ok {
		return ""
	}
	return valStr
}

func NewSessionContext(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, SessionCtxKey, session)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	session, ok := ctx.Value(SessionCtxKey).(domain.Session)
	return session, ok
}

// serviceKeyVerifier guards the service-to-service surface with a static,
// bcrypt-hashed key.
func (s *server) serviceKeyVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorizationHeader := r.Header.Get("Authorization")
		if authorizationHeader == "" || s.serviceKeyHash == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		err := bcrypt.CompareHashAndPassword([]byte(s.serviceKeyHash), []byte(authorizationHeader))
		if err != nil {
			http.Error(w, "invalid service key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
