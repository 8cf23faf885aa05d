package store

import "time"

// PlacementInput is one (part, location) pair of a target placement set.
type PlacementInput struct {
	PartID   int64 `json:"partId"`
	Location int   `json:"location"`
}

// MachineSummary is a listing row: machine metadata plus its placement count.
type MachineSummary struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ImageRef   string    `json:"imageRef"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	TotalPecas int64     `json:"totalPecas"`
}

// MachinePage is one page of machines with count-accurate totals.
type MachinePage struct {
	Items      []MachineSummary `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
}

// PlacementDetail is a placement joined to its part.
type PlacementDetail struct {
	ID        int64  `json:"id"`
	PartID    int64  `json:"partId"`
	Name      string `json:"name"`
	StoreLink string `json:"storeLink"`
	Location  int    `json:"location"`
}

// MachineDetail is a machine with its full placement list.
type MachineDetail struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	ImageRef   string            `json:"imageRef"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Placements []PlacementDetail `json:"placements"`
}

// MachineRef identifies a machine by id and name only.
type MachineRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AssignResult reports how an assignment batch was applied.
type AssignResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Scope restricts which machines a query may return. The zero value matches
// no machine.
type Scope struct {
	all    bool
	userID string
}

// AllMachines is the scope of privileged callers.
func AllMachines() Scope {
	return Scope{all: true}
}

// AssignedTo limits a query to the machines assigned to userID.
func AssignedTo(userID string) Scope {
	return Scope{userID: userID}
}

// All reports whether the scope covers the whole catalog.
func (s Scope) All() bool { return s.all }

// UserID returns the user a restricted scope belongs to.
func (s Scope) UserID() string { return s.userID }
