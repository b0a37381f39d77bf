package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog entry checkout snapshots into order items.
type Product struct {
	ID        string
	Name      string
	Image     string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	UpdatedAt time.Time
}
