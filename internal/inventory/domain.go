package inventory

import (
	"time"

	"github.com/serat-auto/backoffice/internal/shared"
)

// TransactionType enumerates journaled stock movements.
type TransactionType string

const (
	// TransactionTypeSale is stock consumed by a sale.
	TransactionTypeSale TransactionType = "SALE"
	// TransactionTypeReturn is stock given back by a sale update or deletion.
	TransactionTypeReturn TransactionType = "RETURN"
	// TransactionTypeAdjust indicates manual adjustments.
	TransactionTypeAdjust TransactionType = "ADJUST"
)

// Reference ties a movement to the document and actor that caused it.
type Reference struct {
	Type    TransactionType
	Module  string
	ID      string
	ActorID int64
	Note    string
	At      time.Time
}

// Movement is one journaled change of a product's stock.
type Movement struct {
	ID           int64
	ProductID    int64
	Type         TransactionType
	QtyChange    int
	BalanceAfter int
	RefModule    string
	RefID        string
	ActorID      int64
	Note         string
	PostedAt     time.Time
}

// StockCardEntry describes a stock card line for reports.
type StockCardEntry struct {
	TxType     TransactionType `json:"txType"`
	PostedAt   time.Time       `json:"postedAt"`
	QtyIn      int             `json:"qtyIn"`
	QtyOut     int             `json:"qtyOut"`
	BalanceQty int             `json:"balanceQty"`
	RefModule  string          `json:"refModule"`
	RefID      string          `json:"refId"`
	ActorID    int64           `json:"actorId"`
	Note       string          `json:"note"`
}

// CardEntry converts a movement into its stock card representation.
func (m Movement) CardEntry() StockCardEntry {
	entry := StockCardEntry{
		TxType:     m.Type,
		PostedAt:   m.PostedAt,
		BalanceQty: m.BalanceAfter,
		RefModule:  m.RefModule,
		RefID:      m.RefID,
		ActorID:    m.ActorID,
		Note:       m.Note,
	}
	if m.QtyChange > 0 {
		entry.QtyIn = m.QtyChange
	} else {
		entry.QtyOut = -m.QtyChange
	}
	return entry
}

// AdjustmentInput describes request to adjust stock.
type AdjustmentInput struct {
	ProductID int64
	Qty       int
	Note      string
	ActorID   int64
	Key       string
	At        time.Time
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	ProductID int64
	Limit     int
}

// StockCard is the movement history of one product with its current balance.
type StockCard struct {
	ProductID int64            `json:"productId"`
	Available int              `json:"available"`
	Entries   []StockCardEntry `json:"movements"`
}

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity error = &shared.ValidationError{Field: "qty", Reason: "quantity must be non zero"}
