package purchase

// Product is one purchasable credit pack. Credits is the face value, Bonus
// the extra credits granted on top; both are credited on reconciliation.
type Product struct {
	ID          string `json:"productId"`
	Credits     int64  `json:"credits"`
	Bonus       int64  `json:"bonus"`
	Price       string `json:"price"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TotalCredits is the amount credited to the ledger for one purchase.
func (p Product) TotalCredits() int64 {
	return p.Credits + p.Bonus
}

var catalog = []Product{
	{
		ID:          "credits_10",
		Credits:     10,
		Bonus:       0,
		Price:       "$0.99",
		Title:       "Starter Pack",
		Description: "10 credits",
	},
	{
		ID:          "credits_50",
		Credits:     50,
		Bonus:       10,
		Price:       "$4.99",
		Title:       "Popular Pack",
		Description: "50 credits + 10 bonus",
	},
	{
		ID:          "credits_100",
		Credits:     100,
		Bonus:       25,
		Price:       "$9.99",
		Title:       "Value Pack",
		Description: "100 credits + 25 bonus",
	},
	{
		ID:          "credits_250",
		Credits:     250,
		Bonus:       75,
		Price:       "$19.99",
		Title:       "Mega Pack",
		Description: "250 credits + 75 bonus",
	},
}

// Products returns the credit pack catalog in display order.
func Products() []Product {
	out := make([]Product, len(catalog))
	copy(out, catalog)
	return out
}

// ProductByID looks up a catalog entry by its store product id.
func ProductByID(id string) (Product, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}
