// Package auth issues and validates the JWT tokens protecting the admin
// endpoints (circuit reset). Operator credentials come from the environment;
// there is no user store behind this surface.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"outbound-relay/internal/handler/http/requestid"
)

const tokenTTL = time.Hour

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// TokenHandler authenticates against ADMIN_USERNAME / ADMIN_PASSWORD and
// issues an HS256 token signed with JWT_SECRET.
func TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := requestid.FromContext(r.Context())
		logger := slog.With(slog.String("request_id", requestID))

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("authentication failed", slog.String("reason", "invalid_request"))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		if !credentialsMatch(req.Username, req.Password) {
			logger.Warn("authentication failed", slog.String("reason", "invalid_credentials"))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  req.Username,
			"role": "admin",
			"exp":  time.Now().Add(tokenTTL).Unix(),
		})

		signed, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
		if err != nil {
			logger.Error("token generation failed", slog.Any("error", err))
			http.Error(w, "token generation failed", http.StatusInternalServerError)
			return
		}

		logger.Info("authentication successful", slog.String("user", req.Username))

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tokenResponse{Token: signed}); err != nil {
			logger.Error("failed to encode token response", slog.Any("error", err))
		}
	}
}

// credentialsMatch compares against the configured admin credentials in
// constant time. Hashing first keeps the comparison length-independent.
func credentialsMatch(username, password string) bool {
	wantUser := os.Getenv("ADMIN_USERNAME")
	wantPass := os.Getenv("ADMIN_PASSWORD")
	if wantUser == "" || wantPass == "" {
		return false
	}
	userHash := sha256.Sum256([]byte(username))
	wantUserHash := sha256.Sum256([]byte(wantUser))
	passHash := sha256.Sum256([]byte(password))
	wantPassHash := sha256.Sum256([]byte(wantPass))

	userOK := subtle.ConstantTimeCompare(userHash[:], wantUserHash[:]) == 1
	passOK := subtle.ConstantTimeCompare(passHash[:], wantPassHash[:]) == 1
	return userOK && passOK
}
