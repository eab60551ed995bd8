package models

import (
	"github.com/shopspring/decimal"
)

// Catalog item snapshot as returned together with favorites
type Item struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Brand     string          `json:"brand,omitempty"`
	Size      string          `json:"size,omitempty"`
	Condition string          `json:"condition,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Images    []string        `json:"images,omitempty"`
}

type Favorite struct {
	ItemID int64 `json:"item_id"`
	Item   *Item `json:"item,omitempty"`
}
