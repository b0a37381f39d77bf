package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderItem is an explicit line item; omit items to check out the cart.
// swagger:model CreateOrderItem
type CreateOrderItem struct {
	ProductID string          `json:"product_id" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	Name      string          `json:"name" example:"Coffee beans 1kg"`
	Image     string          `json:"image,omitempty"`
	Quantity  int             `json:"quantity" example:"2"`
	Price     decimal.Decimal `json:"price" swaggertype:"string" example:"10.00"`
}

// CreateOrderRequest is the checkout payload.
// swagger:model CreateOrderRequest
type CreateOrderRequest struct {
	Items           []CreateOrderItem `json:"items"`
	ShippingAddress *Address          `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod" example:"khqr"`
	Currency        string            `json:"currency,omitempty" example:"USD"`
	Shipping        *decimal.Decimal  `json:"shipping,omitempty" swaggertype:"string" example:"0.00"`
	Tax             *decimal.Decimal  `json:"tax,omitempty" swaggertype:"string" example:"0.00"`
	// Subtotal and Total are optional client-side figures; they must agree
	// with the server computation.
	Subtotal *decimal.Decimal `json:"subtotal,omitempty" swaggertype:"string"`
	Total    *decimal.Decimal `json:"total,omitempty" swaggertype:"string"`
}

// UnmarshalJSON also accepts shipping_address and payment_method.
func (r *CreateOrderRequest) UnmarshalJSON(b []byte) error {
	type plain CreateOrderRequest
	var aux struct {
		plain
		ShippingAddressSnake *Address `json:"shipping_address"`
		PaymentMethodSnake   string   `json:"payment_method"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = CreateOrderRequest(aux.plain)
	if r.ShippingAddress == nil {
		r.ShippingAddress = aux.ShippingAddressSnake
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = aux.PaymentMethodSnake
	}
	return nil
}

type ItemView struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// View is the client-facing order representation. Money is rendered with
// two decimals.
// swagger:model OrderView
type View struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Items             []ItemView     `json:"items"`
	Subtotal          string         `json:"subtotal" example:"30.00"`
	Shipping          string         `json:"shipping" example:"0.00"`
	Tax               string         `json:"tax" example:"0.00"`
	Total             string         `json:"total" example:"30.00"`
	Currency          string         `json:"currency" example:"USD"`
	PaymentMethod     PaymentMethod  `json:"payment_method" example:"qr-bank"`
	Status            Status         `json:"status" example:"pending"`
	PaymentStatus     PaymentStatus  `json:"payment_status" example:"pending"`
	ShippingAddress   Address        `json:"shipping_address"`
	CheckoutSessionID string         `json:"checkout_session_id,omitempty"`
	PaymentReference  string         `json:"payment_reference,omitempty"`
	PaymentResult     *PaymentResult `json:"payment_result,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (o *Order) View() View {
	items := make([]ItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			Image:     it.Image,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
		})
	}
	return View{
		ID:                o.ID,
		UserID:            o.UserID,
		Items:             items,
		Subtotal:          o.Subtotal.StringFixed(2),
		Shipping:          o.Shipping.StringFixed(2),
		Tax:               o.Tax.StringFixed(2),
		Total:             o.Total.StringFixed(2),
		Currency:          o.Currency,
		PaymentMethod:     o.PaymentMethod,
		Status:            o.Status,
		PaymentStatus:     o.PaymentStatus,
		ShippingAddress:   o.ShippingAddress,
		CheckoutSessionID: o.CheckoutSessionID,
		PaymentReference:  o.PaymentReference,
		PaymentResult:     o.PaymentResult,
		PaidAt:            o.PaidAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}
