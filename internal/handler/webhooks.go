package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/dinein/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Signature"

// ProviderConfirmer confirms payments from provider callbacks.
// Satisfied by *service.PaymentService.
type ProviderConfirmer interface {
	ConfirmProvider(ctx context.Context, c service.ProviderConfirmation) (*service.ConfirmResult, error)
}

// WebhookHandler receives payment provider callbacks. Providers redeliver
// until they get a 2xx, so duplicates answer 200 with the original result.
type WebhookHandler struct {
	svc    ProviderConfirmer
	secret []byte
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc ProviderConfirmer, secret string) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: []byte(secret)}
}

// RegisterRoutes mounts under /webhooks.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payments/{provider}", h.Payment)
}

type providerCallback struct {
	ProviderTxnID string `json:"provider_txn_id" validate:"required,max=128"`
	PaymentCode   string `json:"payment_code" validate:"required,max=64"`
}

// Payment handles POST /webhooks/payments/{provider}.
func (h *WebhookHandler) Payment(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToUpper(chi.URLParam(r, "provider"))
	if provider == "" {
		writeErrorMsg(w, http.StatusBadRequest, "missing provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.validSignature(body, r.Header.Get(SignatureHeader)) {
		writeErrorMsg(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	var cb providerCallback
	if !decodeBody(w, r, &cb) {
		return
	}

	res, err := h.svc.ConfirmProvider(r.Context(), service.ProviderConfirmation{
		Provider:      provider,
		ProviderTxnID: cb.ProviderTxnID,
		PaymentCode:   cb.PaymentCode,
	})
	if err != nil {
		writeServiceError(w, "provider confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *WebhookHandler) validSignature(body []byte, sig string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(h.secret, body))
}

// Sign computes the signature a provider sends for body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
