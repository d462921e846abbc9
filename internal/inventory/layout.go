package inventory

import (
	"fmt"

	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
)

// SeatSpec declares one seat of the layout.
type SeatSpec struct {
	ID    string          `yaml:"id"`
	Class model.SeatClass `yaml:"class"`
	Price int             `yaml:"price"`
}

// DefaultLayout is the single-screen layout used when no layout file is
// configured: three VIP, four Regular and five Economy seats.
func DefaultLayout() []SeatSpec {
	var out []SeatSpec
	add := func(class model.SeatClass, n, price int) {
		for i := 1; i <= n; i++ {
			out = append(out, SeatSpec{ID: fmt.Sprintf("%s%d", class.SeatPrefix(), i), Class: class, Price: price})
		}
	}
	add(model.ClassVIP, 3, 150000)
	add(model.ClassRegular, 4, 100000)
	add(model.ClassEconomy, 5, 75000)
	return out
}

// ValidateLayout rejects empty layouts, duplicate ids, unknown classes
// and non-positive prices.
func ValidateLayout(specs []SeatSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("layout has no seats")
	}
	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return fmt.Errorf("seat with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate seat %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if _, err := model.ParseSeatClass(string(s.Class)); err != nil {
			return fmt.Errorf("seat %q: %w", s.ID, err)
		}
		if s.Price <= 0 {
			return fmt.Errorf("seat %q: price must be positive", s.ID)
		}
	}
	return nil
}
