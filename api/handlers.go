/*
handlers.go - HTTP API handlers for the reward ledger

PURPOSE:
  Exposes the reward ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger service.

ENDPOINTS:
  POST /api/v1/rewards               Credit coins to a user (lazy user creation)
  POST /api/v1/redeem                Redeem coins FIFO (all-or-nothing)
  GET  /api/v1/view/coins            Full account view with FIFO breakdown
  GET  /api/v1/balance               Current spendable balance
  POST /api/v1/admin/expiry/process  Trigger expiry reconciliation on demand
  GET  /api/v1/health                Liveness probe

  The user is identified by the userId request header on every endpoint
  except /health.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the ledger service
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned in the standard envelope with appropriate status:
  - 400: Validation errors (INVALID_AMOUNT, missing userId)
  - 404: USER_NOT_FOUND
  - 409: INSUFFICIENT_BALANCE
  - 503: STORE_UNAVAILABLE
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/service.go: Domain logic
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sudonull-1/reward-management/cache"
	"github.com/sudonull-1/reward-management/ledger"
)

// userIDHeader carries the acting user's id on every API call.
const userIDHeader = "userId"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
	Cache   cache.ExpiryCache
}

// NewHandler creates a new handler around the ledger service.
func NewHandler(service *ledger.Service, expiryCache cache.ExpiryCache) *Handler {
	if expiryCache == nil {
		expiryCache = cache.NewNoop()
	}
	return &Handler{Service: service, Cache: expiryCache}
}

// =============================================================================
// CREDIT
// =============================================================================

// CreditReward credits coins to a user.
// POST /api/v1/rewards
func (h *Handler) CreditReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}
	if req.ExpirationMinutes == 0 {
		req.ExpirationMinutes = DefaultExpirationMinutes
	}

	validity := time.Duration(req.ExpirationMinutes) * time.Minute
	tx, err := h.Service.Credit(r.Context(), userID, req.NumberOfCoins, validity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	TransactionsWritten.WithLabelValues(string(ledger.KindCredit)).Inc()
	writeSuccess(w, http.StatusCreated, "Reward credited successfully", CreditResultDTO{
		UserID:      userID,
		Transaction: toTransactionDTO(tx, tx.CreatedAt),
	})
}

// =============================================================================
// REDEEM
// =============================================================================

// RedeemReward redeems coins from a user's oldest credits.
// POST /api/v1/redeem
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	debits, err := h.Service.Redeem(r.Context(), userID, req.NumberOfCoins)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			RedemptionsRejected.Inc()
		}
		writeLedgerError(w, err)
		return
	}

	now := time.Now().UTC()
	result := RedeemResultDTO{
		UserID:        userID,
		RedeemedCoins: req.NumberOfCoins,
		Debits:        make([]TransactionDTO, 0, len(debits)),
	}
	for _, d := range debits {
		TransactionsWritten.WithLabelValues(string(d.Kind)).Inc()
		result.Debits = append(result.Debits, toTransactionDTO(d, now))
	}
	writeSuccess(w, http.StatusOK, "Coins redeemed successfully", result)
}

// =============================================================================
// VIEW
// =============================================================================

// ViewCoins returns the full account picture: balance, history, and the
// FIFO breakdown of still-active credits.
// GET /api/v1/view/coins
func (h *Handler) ViewCoins(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summary, err := h.Service.View(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	dto := toViewDTO(summary)

	// Serve the scheduler's precomputed expiring-soon figure on a cache hit;
	// the derived value stands in on a miss. The cached figure can lag the
	// ledger by up to the cache TTL.
	if coins, hit, err := h.Cache.GetExpiringSoon(r.Context(), userID); err == nil && hit {
		dto.CoinsExpiringIn30Mins = coins
	}

	writeSuccess(w, http.StatusOK, "Retrieved information for user "+userID, dto)
}

// =============================================================================
// BALANCE
// =============================================================================

// GetBalance returns the current spendable balance.
// GET /api/v1/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	balance, err := h.Service.BalanceOf(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Current balance for user "+userID, BalanceDTO{
		UserID:  userID,
		Balance: balance,
	})
}

// =============================================================================
// ADMIN
// =============================================================================

// ExpiryProcessResultDTO reports a manually triggered reconciliation.
type ExpiryProcessResultDTO struct {
	UserID        string `json:"userId,omitempty"`
	DebitsWritten int    `json:"debitsWritten"`
}

// ProcessExpiry triggers expiry reconciliation on demand: for one user when
// the userId header is present, otherwise across all users.
// POST /api/v1/admin/expiry/process
func (h *Handler) ProcessExpiry(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)

	var (
		written int
		err     error
	)
	if userID != "" {
		written, err = h.Service.ReconcileUser(r.Context(), userID)
	} else {
		written, err = h.Service.Sweep(r.Context())
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if written > 0 {
		TransactionsWritten.WithLabelValues(string(ledger.KindExpire)).Add(float64(written))
	}
	writeSuccess(w, http.StatusOK, "Expiry processing completed", ExpiryProcessResultDTO{
		UserID:        userID,
		DebitsWritten: written,
	})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports service liveness.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Service is healthy", "OK")
}

// =============================================================================
// HELPERS
// =============================================================================

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "User ID is required", "MISSING_USER_ID")
		return "", false
	}
	return userID, true
}

// writeLedgerError maps domain errors onto HTTP status codes and error codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error(), "INSUFFICIENT_BALANCE")
	case errors.Is(err, ledger.ErrMissingUserID):
		writeError(w, http.StatusBadRequest, err.Error(), "MISSING_USER_ID")
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "USER_NOT_FOUND")
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_AMOUNT")
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "Storage temporarily unavailable", "STORE_UNAVAILABLE")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Message: message,
		Error:   code,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
