package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ListingModel struct {
	ID              string    `gorm:"primaryKey"`
	UserRef         string    `gorm:"not null;index:idx_listings_owner_ts,priority:1"`
	Timestamp       time.Time `gorm:"not null;index:idx_listings_owner_ts,priority:2,sort:desc"`
	Name            string    `gorm:"not null"`
	Type            string    `gorm:"not null"`
	Bedrooms        int
	Bathrooms       int
	Parking         bool
	Furnished       bool
	Offer           bool
	RegularPrice    int64
	DiscountedPrice int64
	Location        string
	Latitude        float64
	Longitude       float64
	ImageURLs       datatypes.JSON    `gorm:"type:jsonb"`
	Extra           datatypes.JSONMap `gorm:"type:jsonb"`
}

func (ListingModel) TableName() string { return "listings" }

type UserProfileModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (UserProfileModel) TableName() string { return "users" }
