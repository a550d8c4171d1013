// Package pos wraps the POS vendor's reporting HTTP API: transactions,
// inventory, and discounts. All monetary fields are decoded into
// decimal.Decimal so no float arithmetic ever touches money.
package pos

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType values as reported by the vendor. Only Retail
// transactions flow into the GL.
const (
	TypeRetail    = "Retail"
	TypeWholesale = "Wholesale"
	TypeTransfer  = "Transfer"
)

// Transaction is the wire model of one POS transaction, restricted to the
// fields the pipeline relies on. Unknown fields are ignored on decode.
type Transaction struct {
	TransactionID   string `json:"transactionId"`
	TransactionType string `json:"transactionType"`

	// TransactionDate is the UTC instant. TransactionDateLocalTime is the
	// vendor-computed store wall clock, tz-naive ("2006-01-02T15:04:05");
	// empty when the vendor omits it.
	TransactionDate          time.Time `json:"transactionDate"`
	TransactionDateLocalTime string    `json:"transactionDateLocalTime"`

	IsVoid   bool `json:"isVoid"`
	IsReturn bool `json:"isReturn"`

	Subtotal         decimal.Decimal `json:"subtotal"`
	TotalDiscount    decimal.Decimal `json:"totalDiscount"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	Paid             decimal.Decimal `json:"paid"`
	CashPaid         decimal.Decimal `json:"cashPaid"`
	DebitPaid        decimal.Decimal `json:"debitPaid"`
	ElectronicPaid   decimal.Decimal `json:"electronicPaid"`
	CreditPaid       decimal.Decimal `json:"creditPaid"`
	PrePaymentAmount decimal.Decimal `json:"prePaymentAmount"`
	ChangeDue        decimal.Decimal `json:"changeDue"`
	LoyaltySpent     decimal.Decimal `json:"loyaltySpent"`

	Items     []Item         `json:"items"`
	Discounts []DiscountLine `json:"discounts"`
}

// Item is one line item on a transaction. ReturnDate is a local date
// ("2006-01-02" or a longer local timestamp); empty when never returned.
type Item struct {
	ProductID     string          `json:"productId"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	Quantity      decimal.Decimal `json:"quantity"`
	IsReturned    bool            `json:"isReturned"`
	ReturnDate    string          `json:"returnDate"`
}

// DiscountLine is one applied discount. DiscountReason carries the
// region-specific loyalty markers ("* Loyalty 10", "Dutchie Loyalty", ...).
type DiscountLine struct {
	DiscountName   string          `json:"discountName"`
	DiscountReason string          `json:"discountReason"`
	Amount         decimal.Decimal `json:"amount"`
}

// InventoryItem is one row of the inventory report.
type InventoryItem struct {
	ProductID         string          `json:"productId"`
	SKU               string          `json:"sku"`
	ProductName       string          `json:"productName"`
	Category          string          `json:"category"`
	QuantityAvailable decimal.Decimal `json:"quantityAvailable"`
	UnitCost          decimal.Decimal `json:"unitCost"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
}

// Discount is one row of the discounts/v2 listing.
type Discount struct {
	DiscountID     string          `json:"discountId"`
	DiscountName   string          `json:"discountName"`
	DiscountMethod string          `json:"discountMethod"`
	Amount         decimal.Decimal `json:"amount"`
	IsActive       bool            `json:"isActive"`
	ValidFrom      string          `json:"validFrom"`
	ValidUntil     string          `json:"validUntil"`
}
