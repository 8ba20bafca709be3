/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal ledger model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

ENVELOPE:
  Every response is wrapped in APIResponse: {success, message, data, error}.
  Error codes mirror the ledger error taxonomy (INVALID_AMOUNT,
  USER_NOT_FOUND, INSUFFICIENT_BALANCE, STORE_UNAVAILABLE).

VALIDATION:
  Validation is done in handlers and the service, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/service.go: Domain types these map from
*/
package api

import (
	"time"

	"github.com/sudonull-1/reward-management/ledger"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// APIResponse wraps every API payload.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreditRequest is the body of POST /api/v1/rewards.
type CreditRequest struct {
	NumberOfCoins     int64 `json:"numberOfCoins"`
	ExpirationMinutes int64 `json:"expirationMinutes"`
}

// DefaultExpirationMinutes applies when a credit request omits the field.
const DefaultExpirationMinutes = 60

// RedeemRequest is the body of POST /api/v1/redeem.
type RedeemRequest struct {
	NumberOfCoins int64 `json:"numberOfCoins"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TransactionDTO is one ledger entry in API responses.
type TransactionDTO struct {
	TransactionID   string     `json:"transactionId"`
	TransactionType string     `json:"transactionType"`
	NumberOfCoins   int64      `json:"numberOfCoins"`
	BalanceImpact   int64      `json:"balanceImpact"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	SourceCreditID  string     `json:"sourceCreditId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	IsExpired       bool       `json:"isExpired"`
}

// AvailableRewardDTO is one still-spendable credit in FIFO order.
type AvailableRewardDTO struct {
	RewardTransactionID string    `json:"rewardTransactionId"`
	FIFOOrder           int       `json:"fifoOrder"`
	OriginalCoins       int64     `json:"originalCoins"`
	RemainingCoins      int64     `json:"remainingCoins"`
	RedeemedCoins       int64     `json:"redeemedCoins"`
	ExpiredCoins        int64     `json:"expiredCoins"`
	ExpiresAt           time.Time `json:"expiresAt"`
	CreatedAt           time.Time `json:"createdAt"`
	IsExpired           bool      `json:"isExpired"`
}

// ViewDTO is the full account picture returned by GET /api/v1/view/coins.
type ViewDTO struct {
	UserID                   string               `json:"userId"`
	TotalCoins               int64                `json:"totalCoins"`
	Transactions             []TransactionDTO     `json:"transactions"`
	AvailableRewards         []AvailableRewardDTO `json:"availableRewards"`
	CoinsExpiringIn30Mins    int64                `json:"coinsExpiringIn30Mins"`
	ActiveRewardTransactions int                  `json:"activeRewardTransactions"`
	GeneratedAt              time.Time            `json:"generatedAt"`
}

func toTransactionDTO(tx ledger.Transaction, asOf time.Time) TransactionDTO {
	dto := TransactionDTO{
		TransactionID:   tx.ID,
		TransactionType: string(tx.Kind),
		NumberOfCoins:   tx.Amount,
		BalanceImpact:   tx.BalanceImpact(),
		SourceCreditID:  tx.SourceCreditID,
		CreatedAt:       tx.CreatedAt,
		IsExpired:       tx.Kind.IsCredit() && tx.Expired(asOf),
	}
	if tx.Kind.IsCredit() {
		expiresAt := tx.ExpiresAt
		dto.ExpiresAt = &expiresAt
	}
	return dto
}

func toViewDTO(v *ledger.ViewSummary) ViewDTO {
	dto := ViewDTO{
		UserID:                   v.UserID,
		TotalCoins:               v.Balance,
		Transactions:             make([]TransactionDTO, 0, len(v.Transactions)),
		AvailableRewards:         make([]AvailableRewardDTO, 0, len(v.AvailableCredits)),
		CoinsExpiringIn30Mins:    v.CoinsExpiringSoon,
		ActiveRewardTransactions: v.ActiveCredits,
		GeneratedAt:              v.GeneratedAt,
	}
	for _, tx := range v.Transactions {
		dto.Transactions = append(dto.Transactions, toTransactionDTO(tx, v.GeneratedAt))
	}
	for _, c := range v.AvailableCredits {
		dto.AvailableRewards = append(dto.AvailableRewards, AvailableRewardDTO{
			RewardTransactionID: c.CreditID,
			FIFOOrder:           c.FIFORank,
			OriginalCoins:       c.Original,
			RemainingCoins:      c.Remaining,
			RedeemedCoins:       c.Redeemed,
			ExpiredCoins:        c.Expired,
			ExpiresAt:           c.ExpiresAt,
			CreatedAt:           c.CreatedAt,
			IsExpired:           false, // available credits are live by construction
		})
	}
	return dto
}

// BalanceDTO is the payload of GET /api/v1/balance.
type BalanceDTO struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// RedeemResultDTO reports a completed redemption.
type RedeemResultDTO struct {
	UserID        string           `json:"userId"`
	RedeemedCoins int64            `json:"redeemedCoins"`
	Debits        []TransactionDTO `json:"debits"`
}

// CreditResultDTO reports a completed credit.
type CreditResultDTO struct {
	UserID      string         `json:"userId"`
	Transaction TransactionDTO `json:"transaction"`
}
