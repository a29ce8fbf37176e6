package domain

// Listing is a normalized marketplace listing. All monetary amounts are in
// pence (minor units of GBP). A Listing is immutable once produced by the
// normalizer for a given cycle.
type Listing struct {
	ExternalID   string // platform's listing ID, unique per platform
	Platform     Platform
	URL          string
	Title        string
	Description  string
	PriceP       int64 // listing price in pence
	ShippingP    int64 // shipping cost in pence, 0 when free or absent
	SellerName   string
	ImageURL     string
	RawCondition string // condition text as seen on the source, for the classifier
	BuyNow       bool
	ObservedAt   int64 // Unix timestamp in milliseconds
}
