/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal
  documents from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and engines, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go, admin.go: Uses these types
*/
package api

import (
	"github.com/lakshop/points-engine/ledger"
	"github.com/lakshop/points-engine/shop"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Role            string `json:"role"`
	Balance         int64  `json:"balance"`
	MateCode        string `json:"mateCode,omitempty"`
	ActiveTeamID    string `json:"activeTeamId,omitempty"`
	Restricted      bool   `json:"restricted"`
	RestrictedUntil string `json:"restrictedUntil,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

type CreateAccountRequest struct {
	DisplayName string `json:"displayName"`
}

type EntryDTO struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	PiggyBank   bool   `json:"piggyBank,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// =============================================================================
// REDEMPTION
// =============================================================================

type RedeemRequest struct {
	Code      string `json:"code"`
	PartnerID string `json:"partnerId,omitempty"`
}

// =============================================================================
// SHOP
// =============================================================================

type PurchaseRequest struct {
	Items         []shop.CartItem `json:"items"`
	ExpectedTotal int64           `json:"expectedTotal"`

	// Staff-only fields; ignored for non-staff callers.
	StaffDiscountPercent int64  `json:"staffDiscountPercent,omitempty"`
	ViaPOS               bool   `json:"viaPos,omitempty"`
	AccountID            string `json:"accountId,omitempty"` // POS buys on behalf of a student
}

type PurchaseDTO struct {
	ID          string            `json:"id"`
	Items       []PurchaseItemDTO `json:"items"`
	TotalCost   int64             `json:"totalCost"`
	Status      string            `json:"status"`
	Dispute     string            `json:"dispute,omitempty"`
	ReceiptCode string            `json:"receiptCode"`
	CreatedAt   string            `json:"createdAt"`
}

type PurchaseItemDTO struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
}

type ResolveDisputeRequest struct {
	Refund bool `json:"refund"`
}

type ProductDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int64  `json:"stock"`
}

// =============================================================================
// LETTERS, TEAMS, GRANTS
// =============================================================================

type SubmitLetterRequest struct {
	ReceiverID string `json:"receiverId"`
}

type CreateTeamRequest struct {
	TeamID string `json:"teamId"`
}

type BatchGrantRequest struct {
	Targets []string `json:"targets"`
	Amount  int64    `json:"amount"`
	Reason  string   `json:"reason"`
}

// =============================================================================
// ADMIN
// =============================================================================

type GenerateCodesRequest struct {
	Kind        string `json:"kind"`
	Value       int64  `json:"value"`
	Count       int    `json:"count"`
	IntendedFor string `json:"intendedFor,omitempty"`
}

type SettingsDTO struct {
	MaintenanceMode       bool  `json:"maintenanceMode"`
	ShopEnabled           bool  `json:"shopEnabled"`
	PointLimitEnabled     bool  `json:"pointLimitEnabled"`
	GlobalDiscountPercent int64 `json:"globalDiscountPercent"`
	DailyEarnCap          int64 `json:"dailyEarnCap"`
	HoldingCap            int64 `json:"holdingCap"`
}

func (d SettingsDTO) toSettings() ledger.Settings {
	return ledger.Settings{
		MaintenanceMode:       d.MaintenanceMode,
		ShopEnabled:           d.ShopEnabled,
		PointLimitEnabled:     d.PointLimitEnabled,
		GlobalDiscountPercent: d.GlobalDiscountPercent,
		DailyEarnCap:          d.DailyEarnCap,
		HoldingCap:            d.HoldingCap,
	}
}

func settingsDTO(s ledger.Settings) SettingsDTO {
	return SettingsDTO{
		MaintenanceMode:       s.MaintenanceMode,
		ShopEnabled:           s.ShopEnabled,
		PointLimitEnabled:     s.PointLimitEnabled,
		GlobalDiscountPercent: s.GlobalDiscountPercent,
		DailyEarnCap:          s.DailyEarnCap,
		HoldingCap:            s.HoldingCap,
	}
}

type RestrictionRequest struct {
	Until  string `json:"until"` // RFC3339
	Reason string `json:"reason"`
}

type MigrateRequest struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
}

// CirculationReportDTO splits the economy into circulating balance and
// piggy-bank overflow.
type CirculationReportDTO struct {
	Accounts    int   `json:"accounts"`
	Circulating int64 `json:"circulating"`
	PiggyBank   int64 `json:"piggyBank"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
