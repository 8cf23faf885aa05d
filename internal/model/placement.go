package model

// Placement puts one part at one location of one machine's grid. A location
// holds at most one placement per machine.
type Placement struct {
	ID        int64 `gorm:"primaryKey"`
	MachineID int64 `gorm:"not null;uniqueIndex:idx_placement_machine_location,priority:1"`
	PartID    int64 `gorm:"not null;index"`
	Location  int   `gorm:"not null;uniqueIndex:idx_placement_machine_location,priority:2"`
}
