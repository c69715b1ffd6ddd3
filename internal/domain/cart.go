package domain

// CartKey is the persisted-store key holding the serialized cart.
const CartKey = "carrito"

type LineItem struct {
	Name      string  `json:"nombre"`
	UnitPrice float64 `json:"precio"`
}

type Cart struct {
	Items []LineItem
}

func (c Cart) Total() float64 {
	var sum float64
	for _, item := range c.Items {
		sum += item.UnitPrice
	}
	return sum
}

func (c Cart) Len() int {
	return len(c.Items)
}
