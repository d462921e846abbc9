package model

import (
	"fmt"
	"strings"
	"time"
)

// SeatClass is the pricing tier a seat belongs to.  The class of a seat
// is fixed when the seat is created.
type SeatClass string

const (
	ClassVIP     SeatClass = "VIP"
	ClassRegular SeatClass = "Regular"
	ClassEconomy SeatClass = "Economy"
)

// Classes lists every known class in presentation order.
var Classes = []SeatClass{ClassVIP, ClassRegular, ClassEconomy}

// ParseSeatClass maps a case-insensitive class name to a SeatClass.
func ParseSeatClass(s string) (SeatClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vip":
		return ClassVIP, nil
	case "regular":
		return ClassRegular, nil
	case "economy":
		return ClassEconomy, nil
	}
	return "", fmt.Errorf("unknown seat class %q", s)
}

// SeatPrefix returns the row letter used for seats of the class in the
// default layout (VIP=A, Regular=B, Economy=C).
func (c SeatClass) SeatPrefix() string {
	switch c {
	case ClassVIP:
		return "A"
	case ClassRegular:
		return "B"
	case ClassEconomy:
		return "C"
	}
	return ""
}

// Seat describes a single bookable seat of the screening.  Seats are
// identified by a short label such as "A1".  Available only ever moves
// from true to false; there is no release path.
//
// Fields:
//   - ID: seat label, unique within the layout.
//   - Class: VIP, Regular or Economy.
//   - Price: price of the seat (positive, smallest currency unit).
//   - Available: whether the seat can still be booked.
//   - LastModified: when availability last changed (or creation time).
type Seat struct {
	ID           string
	Class        SeatClass
	Price        int
	Available    bool
	LastModified time.Time
}
