// Package identity resolves the reader a request belongs to.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/bookspirit/internal/domain"
)

const (
	AnonCookieName   = "bookspirit_anon_id"
	UserHeaderName   = "X-User-ID"
	anonCookieMaxAge = 30 * 24 * time.Hour
	anonPrefix       = "anon_"
)

type contextKey int

const (
	userIDKey contextKey = iota
	nicknameKey
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

// ProfileStore is the subset of the repository identity needs.
type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	UpsertUserProfile(ctx context.Context, profile *domain.UserProfile) error
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// NicknameFromContext extracts the display name from the request context.
func NicknameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nicknameKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID, for non-HTTP callers.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// NewAnonID returns a fresh anonymous reader ID.
func NewAnonID() string {
	return anonPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidUserID reports whether id is acceptable as a caller-supplied user ID.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func deriveNickname(userID string) string {
	if strings.HasPrefix(userID, anonPrefix) && len(userID) > len(anonPrefix)+8 {
		return "小读者-" + userID[len(userID)-6:]
	}
	return "小读者"
}

func ensureProfile(ctx context.Context, profiles ProfileStore, userID string) error {
	profile, err := profiles.GetUserProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	if profile != nil {
		return nil
	}

	now := time.Now()
	return profiles.UpsertUserProfile(ctx, &domain.UserProfile{
		UserID:    userID,
		Nickname:  deriveNickname(userID),
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// resolveUserID prefers the presentation layer's X-User-ID header and falls
// back to a per-device anonymous cookie, refreshing or minting it.
func resolveUserID(w http.ResponseWriter, r *http.Request, isDev bool) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(UserHeaderName)); id != "" {
		return id, ValidUserID(id)
	}

	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, true
	}

	id := NewAnonID()
	setAnonCookie(w, id, isDev)
	return id, true
}

// Middleware attaches the reader identity to the request context and makes
// sure a profile row exists for it.
func Middleware(profiles ProfileStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := resolveUserID(w, r, isDev)
			if !ok {
				http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
				return
			}

			if err := ensureProfile(r.Context(), profiles, userID); err != nil {
				slog.Error("Failed to initialize reader profile", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, nicknameKey, deriveNickname(userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
