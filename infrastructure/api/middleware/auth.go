package middleware

import (
	"crypto/subtle"
	"net/http"
)

// apiKeyHeader carries the client key for write-protected endpoints.
const apiKeyHeader = "X-API-KEY"

// AuthConfig holds the accepted API keys. An empty key set disables
// write protection entirely.
type AuthConfig struct {
	keys []string
}

// NewAuthConfigWithKeys creates an AuthConfig accepting the given keys.
func NewAuthConfigWithKeys(keys []string) AuthConfig {
	return AuthConfig{keys: keys}
}

// Enabled reports whether write protection is active.
func (c AuthConfig) Enabled() bool { return len(c.keys) > 0 }

func (c AuthConfig) accepts(key string) bool {
	for _, k := range c.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// WriteProtect returns a middleware that requires a valid API key on
// mutating methods. Safe methods (GET, HEAD, OPTIONS) always pass.
func WriteProtect(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !config.accepts(r.Header.Get(apiKeyHeader)) {
				WriteJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing API key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteProtectAuth is a convenience wrapper building the config from a
// raw key list.
func WriteProtectAuth(keys []string) func(http.Handler) http.Handler {
	return WriteProtect(NewAuthConfigWithKeys(keys))
}
