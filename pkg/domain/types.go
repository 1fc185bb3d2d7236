package domain

import "time"

// Session is the authenticated identity as held by the auth provider.
type Session struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type ListingType string

const (
	ListingRent ListingType = "rent"
	ListingSale ListingType = "sale"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ListingData is the body of a listing document. UserRef is the owner
// reference and Timestamp the creation time used for ordering.
type ListingData struct {
	UserRef         string         `json:"userRef"`
	Timestamp       time.Time      `json:"timestamp"`
	Name            string         `json:"name"`
	Type            ListingType    `json:"type"`
	Bedrooms        int            `json:"bedrooms"`
	Bathrooms       int            `json:"bathrooms"`
	Parking         bool           `json:"parking"`
	Furnished       bool           `json:"furnished"`
	Offer           bool           `json:"offer"`
	RegularPrice    int64          `json:"regularPrice"`
	DiscountedPrice int64          `json:"discountedPrice,omitempty"`
	Location        string         `json:"location"`
	Geolocation     GeoPoint       `json:"geolocation"`
	ImageURLs       []string       `json:"imgUrls"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Listing pairs a document id with its data.
type Listing struct {
	ID   string      `json:"id"`
	Data ListingData `json:"data"`
}

// ProfileForm is the editable part of the profile page.
type ProfileForm struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserProfile is the users/{id} document.
type UserProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updatedAt"`
}
