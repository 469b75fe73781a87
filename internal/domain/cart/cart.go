package cart

// Line is one product-and-quantity entry in a cart, as served by
// GET /cart/{userId}.
type Line struct {
	ProductID   int64   `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"price"`
	Subtotal    float64 `json:"subtotal"`
}

// Cart is the remote service's authoritative cart payload.
type Cart struct {
	Items []Line `json:"items"`
}
