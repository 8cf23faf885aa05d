package model

import "time"

// Part is a replaceable component in the shared catalog.
type Part struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null;index" json:"name"`
	StoreLink string    `gorm:"not null" json:"storeLink"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`

	// Associations
	Placements []Placement `gorm:"foreignKey:PartID;constraint:OnDelete:CASCADE" json:"-"`
}
