package entity

import "time"

// Listing types: regular sell listings and buy-orders (a buyer posting what
// they are looking for).
const (
	ListingSell     = "sell"
	ListingBuyOrder = "buyorder"
)

type Product struct {
	ID        string    `json:"id" firestore:"id"`
	SellerID  string    `json:"seller_id" firestore:"sellerId"`
	Name      string    `json:"name" firestore:"name"`
	Type      string    `json:"type" firestore:"type"`
	ImageURL  string    `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Price     float64   `json:"price" firestore:"price"`
	Location  string    `json:"location,omitempty" firestore:"location,omitempty"`
	Deleted   bool      `json:"deleted" firestore:"deleted"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

// Snapshot denormalizes the listing into the shape stored on a
// product-centric conversation.
func (p *Product) Snapshot() *ProductSnapshot {
	return &ProductSnapshot{
		ID:       p.ID,
		Name:     p.Name,
		Type:     p.Type,
		ImageURL: p.ImageURL,
		Price:    p.Price,
		Location: p.Location,
		Deleted:  p.Deleted,
	}
}
