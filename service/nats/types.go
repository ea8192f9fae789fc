package nats

import "time"

// ListingEvent is published when a new marketplace listing is recorded.
type ListingEvent struct {
	ActivityIdx int64     `json:"activity_idx"`
	AssetIdx    int64     `json:"asset_idx"`
	AssetID     string    `json:"asset_id"`
	Name        string    `json:"name"`
	Price       *float64  `json:"price,omitempty"`
	BottledYear *int32    `json:"bottled_year,omitempty"`
	Age         *int32    `json:"age,omitempty"`
	ListedDate  time.Time `json:"listed_date"`
}
