package dashboard

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"solarrelay-go/errcode"
)

const tokenSubject = "operator"

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// issueToken signs an HS256 operator token.
func (s *Server) issueToken() (string, time.Time, error) {
	exp := s.opts.Now().Add(s.opts.TokenTTL)
	c := claims{
		Role: tokenSubject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tokenSubject,
			IssuedAt:  jwt.NewNumericDate(s.opts.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.opts.JWTSecret))
	return tok, exp, err
}

func (s *Server) parseToken(raw string) error {
	if raw == "" {
		return errors.New("dashboard: empty token")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.opts.Now),
		jwt.WithExpirationRequired(),
	)
	c := &claims{}
	token, err := parser.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) {
		return []byte(s.opts.JWTSecret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid || c.Role != tokenSubject {
		return errors.New("dashboard: invalid token")
	}
	return nil
}

// authorize guards control routes when a JWT secret is configured.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeErr(w, errcode.Unauthorized)
			return
		}
		if err := s.parseToken(strings.TrimSpace(raw)); err != nil {
			s.log.Debug("token rejected", "err", err)
			writeErr(w, errcode.Unauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limit sheds control requests above the configured rate.
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeErr(w, errcode.Busy)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.opts.JWTSecret == "" || s.opts.AdminPassword == "" {
		writeErr(w, errcode.Unsupported)
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errcode.InvalidPayload)
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Password), []byte(s.opts.AdminPassword)) != 1 {
		writeErr(w, errcode.Unauthorized)
		return
	}
	tok, exp, err := s.issueToken()
	if err != nil {
		s.log.Error("token sign failed", "err", err)
		writeErr(w, errcode.Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "expires_at": exp})
}
