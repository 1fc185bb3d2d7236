package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"homefinder/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStoreWithDB(db)
}

// NewGormStoreWithDB wraps an already opened connection.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ListingModel{}, &UserProfileModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveListing inserts or replaces a listing document.
func (s *GormStore) SaveListing(ctx context.Context, l domain.Listing) error {
	model, err := listingToModel(l)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// GetListing fetches one listing by id.
func (s *GormStore) GetListing(ctx context.Context, id string) (domain.Listing, bool, error) {
	var model ListingModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Listing{}, false, nil
		}
		return domain.Listing{}, false, err
	}
	l, err := listingFromModel(model)
	if err != nil {
		return domain.Listing{}, false, err
	}
	return l, true, nil
}

// ListListingsByOwner runs the owner query ordered by creation time desc.
func (s *GormStore) ListListingsByOwner(ctx context.Context, ownerRef string) ([]domain.Listing, error) {
	var models []ListingModel
	err := s.db.WithContext(ctx).
		Where("user_ref = ?", ownerRef).
		Order("timestamp DESC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Listing, 0, len(models))
	for _, m := range models {
		l, err := listingFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, nil
}

// DeleteListing removes a listing. Deleting a missing id is not an error.
func (s *GormStore) DeleteListing(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ListingModel{}, "id = ?", id).Error
}

// UpdateUserProfile writes name and email to users/{id}, creating the
// document if it does not exist yet.
func (s *GormStore) UpdateUserProfile(ctx context.Context, userID string, form domain.ProfileForm) error {
	model := UserProfileModel{
		ID:        userID,
		Name:      form.Name,
		Email:     form.Email,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "updated_at"}),
	}).Create(&model).Error
}

// GetUserProfile returns users/{id}.
func (s *GormStore) GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	var model UserProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserProfile{}, false, nil
		}
		return domain.UserProfile{}, false, err
	}
	return domain.UserProfile{
		ID:        model.ID,
		Name:      model.Name,
		Email:     model.Email,
		UpdatedAt: model.UpdatedAt,
	}, true, nil
}

func listingToModel(l domain.Listing) (ListingModel, error) {
	images, err := json.Marshal(nonNilStrings(l.Data.ImageURLs))
	if err != nil {
		return ListingModel{}, fmt.Errorf("encode image urls: %w", err)
	}
	var extra datatypes.JSONMap
	if len(l.Data.Extra) > 0 {
		extra = datatypes.JSONMap(l.Data.Extra)
	}
	return ListingModel{
		ID:              l.ID,
		UserRef:         l.Data.UserRef,
		Timestamp:       l.Data.Timestamp.UTC(),
		Name:            l.Data.Name,
		Type:            string(l.Data.Type),
		Bedrooms:        l.Data.Bedrooms,
		Bathrooms:       l.Data.Bathrooms,
		Parking:         l.Data.Parking,
		Furnished:       l.Data.Furnished,
		Offer:           l.Data.Offer,
		RegularPrice:    l.Data.RegularPrice,
		DiscountedPrice: l.Data.DiscountedPrice,
		Location:        l.Data.Location,
		Latitude:        l.Data.Geolocation.Lat,
		Longitude:       l.Data.Geolocation.Lng,
		ImageURLs:       datatypes.JSON(images),
		Extra:           extra,
	}, nil
}

func listingFromModel(m ListingModel) (domain.Listing, error) {
	var images []string
	if len(m.ImageURLs) > 0 {
		if err := json.Unmarshal(m.ImageURLs, &images); err != nil {
			return domain.Listing{}, fmt.Errorf("decode image urls for listing %s: %w", m.ID, err)
		}
	}
	var extra map[string]any
	if len(m.Extra) > 0 {
		extra = map[string]any(m.Extra)
	}
	return domain.Listing{
		ID: m.ID,
		Data: domain.ListingData{
			UserRef:         m.UserRef,
			Timestamp:       m.Timestamp,
			Name:            m.Name,
			Type:            domain.ListingType(m.Type),
			Bedrooms:        m.Bedrooms,
			Bathrooms:       m.Bathrooms,
			Parking:         m.Parking,
			Furnished:       m.Furnished,
			Offer:           m.Offer,
			RegularPrice:    m.RegularPrice,
			DiscountedPrice: m.DiscountedPrice,
			Location:        m.Location,
			Geolocation:     domain.GeoPoint{Lat: m.Latitude, Lng: m.Longitude},
			ImageURLs:       images,
			Extra:           extra,
		},
	}, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
