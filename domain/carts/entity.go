package carts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Cart is a user's shopping cart. There is at most one per user; it is
// created on the first add and LastActivity is refreshed on every cart call.
type Cart struct {
	bun.BaseModel `bun:"table:carts,alias:c"`

	ID           uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID       uuid.UUID `bun:"user_id,notnull,type:uuid"`
	LastActivity time.Time `bun:"last_activity,notnull,default:now()"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:now()"`
}

// CartItem is one product in a cart. (cart_id, product_id) is unique.
type CartItem struct {
	bun.BaseModel `bun:"table:cart_items,alias:ci"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	CartID    uuid.UUID `bun:"cart_id,notnull,type:uuid"`
	ProductID uuid.UUID `bun:"product_id,notnull,type:uuid"`
	Quantity  int       `bun:"quantity,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()"`
}

// Line is a cart item joined with its product.
type Line struct {
	ItemID      uuid.UUID `bun:"item_id" json:"itemId"`
	ProductID   uuid.UUID `bun:"product_id" json:"productId"`
	Name        string    `bun:"name" json:"name"`
	Description string    `bun:"description" json:"description"`
	Price       int       `bun:"price" json:"price"`
	Quantity    int       `bun:"quantity" json:"quantity"`
}

// Subtotal is quantity times the current product price.
func (l Line) Subtotal() int {
	return l.Quantity * l.Price
}

// View is the cart as returned to the user.
type View struct {
	ID         *uuid.UUID `json:"id"`
	Items      []Line     `json:"items"`
	TotalPrice int        `json:"totalPrice"`
}

func newView(cartID uuid.UUID, lines []Line) *View {
	v := &View{ID: &cartID, Items: lines}
	if v.Items == nil {
		v.Items = []Line{}
	}
	for _, l := range lines {
		v.TotalPrice += l.Subtotal()
	}
	return v
}
