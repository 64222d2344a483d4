package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Order is a placed order. TotalAmount is in minor units and fixed at
// placement time.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID             uuid.UUID      `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID         uuid.UUID      `bun:"user_id,notnull,type:uuid" json:"userId"`
	TotalAmount    int            `bun:"total_amount,notnull" json:"totalAmount"`
	OrderStatus    Status         `bun:"order_status,notnull" json:"orderStatus"`
	TrackingStatus TrackingStatus `bun:"tracking_status,notnull" json:"trackingStatus"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull,default:now()" json:"updatedAt"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items"`
}

// OrderItem snapshots a product as it was when the order was placed.
// ProductID becomes NULL if the product is later deleted.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"-"`
	OrderID      uuid.UUID  `bun:"order_id,notnull,type:uuid" json:"-"`
	ProductID    *uuid.UUID `bun:"product_id,type:uuid" json:"productId,omitempty"`
	ProductName  string     `bun:"product_name,notnull" json:"productName"`
	ProductPrice int        `bun:"product_price,notnull" json:"productPrice"`
	Quantity     int        `bun:"quantity,notnull" json:"quantity"`
	Subtotal     int        `bun:"subtotal,notnull" json:"subtotal"`
}

// Placement is the result of a successful checkout.
type Placement struct {
	OrderID     uuid.UUID `json:"orderId"`
	TotalAmount int       `json:"totalAmount"`
}

// checkoutLine is a selected cart item joined with its product.
type checkoutLine struct {
	CartItemID uuid.UUID `bun:"cart_item_id"`
	ProductID  uuid.UUID `bun:"product_id"`
	Quantity   int       `bun:"quantity"`
	Name       string    `bun:"name"`
	Price      int       `bun:"price"`
	Stock      int       `bun:"stock_quantity"`
}
