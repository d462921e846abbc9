package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/cinema-seat-negotiation/internal/inventory"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
)

// layoutFile is the on-disk seat layout.  Rows expand to <prefix>1..n of
// their class; seats are listed one by one.  Both may be combined.
type layoutFile struct {
	Rows []struct {
		Class  model.SeatClass `yaml:"class"`
		Count  int             `yaml:"count"`
		Price  int             `yaml:"price"`
		Prefix string          `yaml:"prefix"`
	} `yaml:"rows"`
	Seats []inventory.SeatSpec `yaml:"seats"`
}

// LoadLayout returns the layout in path, or the built-in layout when
// path is empty.
func LoadLayout(path string) ([]inventory.SeatSpec, error) {
	if path == "" {
		return inventory.DefaultLayout(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read layout: %w", err)
	}
	return ParseLayout(raw)
}

func ParseLayout(raw []byte) ([]inventory.SeatSpec, error) {
	var f layoutFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse layout: %w", err)
	}
	var specs []inventory.SeatSpec
	for _, r := range f.Rows {
		class, err := model.ParseSeatClass(string(r.Class))
		if err != nil {
			return nil, fmt.Errorf("config: layout row: %w", err)
		}
		prefix := r.Prefix
		if prefix == "" {
			prefix = class.SeatPrefix()
		}
		for i := 1; i <= r.Count; i++ {
			specs = append(specs, inventory.SeatSpec{ID: fmt.Sprintf("%s%d", prefix, i), Class: class, Price: r.Price})
		}
	}
	specs = append(specs, f.Seats...)
	if err := inventory.ValidateLayout(specs); err != nil {
		return nil, fmt.Errorf("config: layout: %w", err)
	}
	return specs, nil
}
