package domain

import (
	"fmt"
	"time"
)

// Variant is a distinct sellable unit inside a product document (size, pack,
// flavor). Quantity is never negative; only the checkout coordinator and the
// restock flow may change it.
type Variant struct {
	VariantID string  `json:"variantId"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// ProductKey is the composite document key: category plus product id.
type ProductKey struct {
	Category  string `json:"category"`
	ProductID string `json:"productId"`
}

// Path renders the document path the way the storage layer addresses it,
// used in error messages and audit entries.
func (k ProductKey) Path() string {
	return fmt.Sprintf("Products/%s/Items/%s", k.Category, k.ProductID)
}

type Product struct {
	Category     string    `json:"category"`
	ProductID    string    `json:"productId"`
	Name         string    `json:"name"`
	Brand        string    `json:"brand,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	BaseQuantity int       `json:"baseQuantity,omitempty"`
	BasePrice    float64   `json:"basePrice,omitempty"`
	Variants     []Variant `json:"variants"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

func (p Product) Key() ProductKey {
	return ProductKey{Category: p.Category, ProductID: p.ProductID}
}

type ProductCreateRequest struct {
	Category  string    `json:"category"`
	ProductID string    `json:"productId"`
	Name      string    `json:"name"`
	Brand     string    `json:"brand,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Variants  []Variant `json:"variants"`
}

type ProductUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Brand *string `json:"brand,omitempty"`
	Unit  *string `json:"unit,omitempty"`
}

type RestockRequest struct {
	Category  string `json:"category"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Qty       int    `json:"qty"`
}

// CartItem is the ephemeral client-side line item. Category and BaseProductID
// locate the backing product document; VariantID picks the stock entry inside it.
type CartItem struct {
	Name          string  `json:"name"`
	Qty           int     `json:"qty"`
	Price         float64 `json:"price"`
	VariantID     string  `json:"variantId"`
	BaseProductID string  `json:"baseProductId"`
	Category      string  `json:"category"`
}

// Cashier is the authenticated operator identity attributed to a sale. The
// checkout core trusts the caller for this beyond presence.
type Cashier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnknownCashier is the sentinel identity used when no cashier is supplied.
var UnknownCashier = Cashier{ID: "unknown", Name: "Unknown Cashier"}

type CustomerDetails struct {
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// SaleRequest is the full input to the checkout coordinator. AmountPaid arrives
// as the raw string typed at the terminal; Total is the client-computed figure
// used only as a cross-check.
type SaleRequest struct {
	Cart            []CartItem       `json:"cart"`
	CustomerID      string           `json:"customerId"`
	CustomerName    string           `json:"customerName"`
	IsBulkOrder     bool             `json:"isBulkOrder"`
	CustomerDetails *CustomerDetails `json:"customerDetails,omitempty"`
	PaymentMethod   string           `json:"paymentMethod"`
	AmountPaid      string           `json:"amountPaid"`
	Total           float64          `json:"total"`
	TerminalID      string           `json:"terminalId,omitempty"`
	Cashier         Cashier          `json:"cashier"`
}

// Totals is the authoritative financial computation for a cart.
type Totals struct {
	SubTotal float64 `json:"subTotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	Change   float64 `json:"change"`
}

// Sale is the immutable record produced by a committed checkout. CommittedAt is
// server-assigned at commit; ClientTimestamp is the terminal-observed time kept
// for immediate receipt display.
type Sale struct {
	ID              string           `json:"id"`
	ReceiptNumber   string           `json:"receiptNumber"`
	CashierID       string           `json:"cashierId"`
	CashierName     string           `json:"cashierName"`
	CustomerID      string           `json:"customerId"`
	CustomerName    string           `json:"customerName"`
	IsBulkOrder     bool             `json:"isBulkOrder"`
	CustomerDetails *CustomerDetails `json:"customerDetails,omitempty"`
	Items           []CartItem       `json:"items"`
	SubTotal        float64          `json:"subTotal"`
	Tax             float64          `json:"tax"`
	Total           float64          `json:"total"`
	AmountPaid      float64          `json:"amountPaid"`
	Change          float64          `json:"change"`
	PaymentMethod   string           `json:"paymentMethod"`
	Status          string           `json:"status"`
	VoidReason      string           `json:"voidReason,omitempty"`
	VoidedBy        string           `json:"voidedBy,omitempty"`
	VoidedAt        *time.Time       `json:"voidedAt,omitempty"`
	CommittedAt     time.Time        `json:"committedAt"`
	ClientTimestamp time.Time        `json:"clientTimestamp"`
}

type VoidSaleRequest struct {
	SaleID string `json:"saleId"`
	Reason string `json:"reason"`
}

// StockMovement is one audit-trail entry for an inventory change. OUT rows are
// written after a committed sale, IN rows after restock or void restore.
type StockMovement struct {
	ID              string    `json:"id"`
	MovementType    string    `json:"movementType"`
	ReferenceType   string    `json:"referenceType"`
	ReferenceID     string    `json:"referenceId"`
	Category        string    `json:"category"`
	ProductID       string    `json:"productId"`
	VariantID       string    `json:"variantId"`
	Name            string    `json:"name"`
	Quantity        int       `json:"quantity"`
	PreviousQty     int       `json:"previousQty"`
	NewQty          int       `json:"newQty"`
	UnitPrice       float64   `json:"unitPrice"`
	PerformedBy     string    `json:"performedBy"`
	PerformedByName string    `json:"performedByName"`
	CreatedAt       time.Time `json:"createdAt"`
}

type PaymentBreakdown struct {
	PaymentMethod string  `json:"paymentMethod"`
	Sales         int64   `json:"sales"`
	Total         float64 `json:"total"`
}

// DailyReport is a read-only aggregation over committed sales for one day.
type DailyReport struct {
	Date      string             `json:"date"`
	Sales     int64              `json:"sales"`
	Gross     float64            `json:"gross"`
	Tax       float64            `json:"tax"`
	ItemsSold int64              `json:"itemsSold"`
	Voided    int64              `json:"voided"`
	ByPayment []PaymentBreakdown `json:"byPayment"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username    string
	DisplayName string
	Role        string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	DisplayName string
	Password    string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

const (
	MovementOut = "OUT"
	MovementIn  = "IN"
)

const (
	MovementRefSale    = "sale"
	MovementRefVoid    = "void"
	MovementRefRestock = "restock"
)
