package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/MikeMC777/ordenes-pagos/internal/order"
)

func addressLine(a order.Address) string {
	parts := []string{}
	for _, p := range []string{a.Address, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// FormatText renders a plain-text order summary for email bodies.
func FormatText(o *order.Order, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", title)
	fmt.Fprintf(&b, "Order: %s\n", o.ID)
	fmt.Fprintf(&b, "Date: %s\n", o.CreatedAt.Format("2006-01-02 15:04"))
	if o.CustomerEmail != "" {
		fmt.Fprintf(&b, "Customer: %s\n", o.CustomerEmail)
	}
	fmt.Fprintf(&b, "Payment: %s (%s)\n", o.PaymentMethod, o.PaymentStatus)
	fmt.Fprintf(&b, "Status: %s\n", o.Status)
	fmt.Fprintf(&b, "Ship to: %s\n\n", addressLine(o.ShippingAddress))
	for _, it := range o.Items {
		fmt.Fprintf(&b, "- %s x%d @ %s\n", it.Name, it.Quantity, it.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s %s\n", o.Subtotal.StringFixed(2), o.Currency)
	fmt.Fprintf(&b, "Shipping: %s %s\n", o.Shipping.StringFixed(2), o.Currency)
	if o.Tax.IsPositive() {
		fmt.Fprintf(&b, "Tax: %s %s\n", o.Tax.StringFixed(2), o.Currency)
	}
	fmt.Fprintf(&b, "Total: %s %s\n", o.Total.StringFixed(2), o.Currency)
	return b.String()
}

// FormatHTML renders the Telegram HTML variant; user-provided text is
// escaped.
func FormatHTML(o *order.Order, title string) string {
	e := html.EscapeString
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", e(title))
	fmt.Fprintf(&b, "<b>Order:</b> <code>%s</code>\n", e(o.ID))
	fmt.Fprintf(&b, "<b>Date:</b> %s\n", o.CreatedAt.Format("2006-01-02 15:04"))
	if o.CustomerEmail != "" {
		fmt.Fprintf(&b, "<b>Customer:</b> %s\n", e(o.CustomerEmail))
	}
	fmt.Fprintf(&b, "<b>Payment:</b> %s (%s)\n", e(string(o.PaymentMethod)), e(string(o.PaymentStatus)))
	fmt.Fprintf(&b, "<b>Status:</b> %s\n", e(string(o.Status)))
	fmt.Fprintf(&b, "<b>Ship to:</b> %s\n\n", e(addressLine(o.ShippingAddress)))
	for _, it := range o.Items {
		fmt.Fprintf(&b, "• %s ×%d @ %s\n", e(it.Name), it.Quantity, it.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "\n<b>Subtotal:</b> %s\n", o.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "<b>Shipping:</b> %s\n", o.Shipping.StringFixed(2))
	fmt.Fprintf(&b, "<b>Total:</b> %s %s\n", o.Total.StringFixed(2), e(o.Currency))
	return b.String()
}
