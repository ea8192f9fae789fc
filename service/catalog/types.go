package catalog

import "time"

// SearchResponse is the envelope returned by the catalog search endpoint.
type SearchResponse struct {
	Total int        `json:"total"`
	Hits  []AssetHit `json:"hits"`
}

// AssetHit is one search result.
type AssetHit struct {
	Source AssetSource `json:"_source"`
}

// AssetSource is the catalog's record for one tokenized bottle.
type AssetSource struct {
	ID           int64    `json:"id"`
	AssetAddress string   `json:"assetAddress"`
	Name         string   `json:"name"`
	Price        *float64 `json:"price"`
	BottledYear  *int32   `json:"bottledYear"`
	Age          *int32   `json:"age"`
	IsListed     bool     `json:"isListed"`
	ListedDate   *string  `json:"listedDate"`
	SpiritType   string   `json:"spiritType"`
	ImageURL     string   `json:"imageUrl"`
}

// ListedTime parses the listing timestamp, returning nil when the asset is
// not listed or the value is unparseable.
func (s *AssetSource) ListedTime() *time.Time {
	if s.ListedDate == nil || *s.ListedDate == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, *s.ListedDate); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// SearchParams controls a catalog search request.
type SearchParams struct {
	From        int
	Size        int
	SpiritTypes []string
	ListedOnly  bool
	Sort        string // e.g. "listedDate:desc"
}

// searchBody is the POST payload for address-batch lookups.
type searchBody struct {
	AssetAddresses []string `json:"assetAddresses"`
}
