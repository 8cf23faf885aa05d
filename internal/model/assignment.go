package model

import "time"

// UserMachineAssignment grants a restricted user visibility of one machine.
type UserMachineAssignment struct {
	ID        int64     `gorm:"primaryKey"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex:idx_assignment_user_machine,priority:1"`
	MachineID int64     `gorm:"not null;uniqueIndex:idx_assignment_user_machine,priority:2;index"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Machine *Machine `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
