package products

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Product is a catalog entry from the products table. Price is in minor
// units; StockQuantity never goes below zero.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Name          string    `bun:"name,notnull"`
	Description   string    `bun:"description,notnull"`
	Price         int       `bun:"price,notnull"`
	StockQuantity int       `bun:"stock_quantity,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()"`
}
