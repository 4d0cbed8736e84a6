package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/cart"
)

// OperationSale is the operation type of a queued sale.
const OperationSale = "sale"

// Customer is the buyer a sale is charged to.
// A nil CreditLimit means the customer has no limit.
type Customer struct {
	ID                 string           `json:"id" yaml:"id"`
	Name               string           `json:"name,omitempty" yaml:"name"`
	CreditLimit        *decimal.Decimal `json:"creditLimit,omitempty" yaml:"creditLimit"`
	OutstandingBalance decimal.Decimal  `json:"outstandingBalance" yaml:"outstandingBalance"`
}

// Operator identifies who rings up the sale and for which tenant.
type Operator struct {
	CashierID string `json:"cashierId" yaml:"cashierId"`
	BranchID  string `json:"branchId" yaml:"branchId"`
	CompanyID string `json:"companyId" yaml:"companyId"`
}

// LineItem is the snapshot of one cart line inside a payload.
type LineItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitID      string          `json:"sellingUnitId"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// SalePayload is everything the back office needs to record a sale.
// It is built once per checkout and never modified afterwards, except that
// the offline path stamps a client-side SaleNumber before queuing it.
type SalePayload struct {
	SaleNumber     string          `json:"saleNumber,omitempty"`
	CompanyID      string          `json:"companyId"`
	BranchID       string          `json:"branchId"`
	CashierID      string          `json:"cashierId"`
	CustomerID     string          `json:"customerId,omitempty"`
	Items          []LineItem      `json:"items"`
	TotalBefore    decimal.Decimal `json:"totalBefore"`
	DiscountType   string          `json:"discountType"`
	Discount       decimal.Decimal `json:"discount"`
	TotalAfter     decimal.Decimal `json:"totalAfter"`
	Currency       string          `json:"currency"`
	BaseCurrency   string          `json:"baseCurrency"`
	ExchangeRate   decimal.Decimal `json:"exchangeRate"`
	ReceivedAmount decimal.Decimal `json:"receivedAmount"`
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	Change         decimal.Decimal `json:"change"`
	PaidAt         time.Time       `json:"paidAt"`
}

// SaleRecord is the back office's answer to a submitted sale.
type SaleRecord struct {
	SaleNumber string `json:"saleNumber"`
	Status     string `json:"status"`
}

// Back office answers.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

func snapshotItems(items []cart.Item) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, LineItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitID:      it.UnitID,
			Quantity:    it.Qty,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal(),
		})
	}
	return out
}
