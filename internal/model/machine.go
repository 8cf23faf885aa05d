package model

import "time"

// Machine is a physical device drawn as a schematic image with parts placed
// on a grid overlay.
type Machine struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null;index" json:"name"`
	ImageRef  string    `gorm:"not null" json:"imageRef"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`

	// Associations
	Placements []Placement `gorm:"foreignKey:MachineID;constraint:OnDelete:CASCADE" json:"-"`
}
