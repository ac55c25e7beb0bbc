package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a purchasable digital good. FileKey is the private object key of
// the deliverable in the downloads bucket.
type Product struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Slug        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"slug"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	SKU         string    `gorm:"type:varchar(64)" json:"sku,omitempty"`
	PriceAmount int64     `gorm:"not null" json:"price_amount"`
	Currency    string    `gorm:"type:char(3);not null" json:"currency"`
	FileKey     string    `gorm:"type:varchar(512)" json:"-"`
	FileName    string    `gorm:"type:varchar(255)" json:"file_name,omitempty"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
