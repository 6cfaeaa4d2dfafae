package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// requireAPIKey authenticates retailer/admin requests by computing the
// HMAC-SHA256 of the provided API key, looking it up, and performing a
// constant-time comparison to prevent timing attacks.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		mac := hmac.New(sha256.New, h.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		info, err := h.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		stored, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
