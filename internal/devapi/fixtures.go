package devapi

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

type User struct {
	ID       int    `yaml:"id" json:"id"`
	Email    string `yaml:"email" json:"email"`
	Name     string `yaml:"name" json:"name"`
	Password string `yaml:"password" json:"-"`
}

type Product struct {
	ID         int    `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Category   string `yaml:"category" json:"category"`
	PriceCents int    `yaml:"priceCents" json:"priceCents"`
	Stock      int    `yaml:"stock" json:"stock"`
}

// Deal is a group-buy offer: the group price applies once enough buyers join.
type Deal struct {
	ID              int    `yaml:"id" json:"id"`
	Title           string `yaml:"title" json:"title"`
	ProductID       int    `yaml:"productId" json:"productId"`
	GroupPriceCents int    `yaml:"groupPriceCents" json:"groupPriceCents"`
	MinParticipants int    `yaml:"minParticipants" json:"minParticipants"`
	Participants    int    `yaml:"participants" json:"participants"`
}

// Fixtures is the initial data the API serves.
type Fixtures struct {
	Users    []User    `yaml:"users"`
	Products []Product `yaml:"products"`
	Deals    []Deal    `yaml:"deals"`
}

// DefaultFixtures returns the built-in data set.
func DefaultFixtures() Fixtures {
	f, err := DecodeFixtures(bytes.NewReader(defaultFixtures))
	if err != nil {
		panic(fmt.Sprintf("embedded fixtures are invalid: %v", err))
	}
	return f
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("opening fixtures: %w", err)
	}
	defer f.Close()

	return DecodeFixtures(f)
}

// DecodeFixtures parses YAML fixtures, rejecting unknown fields and
// duplicate IDs.
func DecodeFixtures(r io.Reader) (Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixtures
	if err := dec.Decode(&f); err != nil {
		return Fixtures{}, fmt.Errorf("fixtures parsing failed: %w", err)
	}

	if err := f.validate(); err != nil {
		return Fixtures{}, err
	}
	return f, nil
}

func (f Fixtures) validate() error {
	emails := map[string]bool{}
	for _, u := range f.Users {
		if u.Email == "" {
			return fmt.Errorf("user %d has no email", u.ID)
		}
		if emails[u.Email] {
			return fmt.Errorf("duplicate user email %q", u.Email)
		}
		emails[u.Email] = true
	}

	products := map[int]bool{}
	for _, p := range f.Products {
		if products[p.ID] {
			return fmt.Errorf("duplicate product id %d", p.ID)
		}
		products[p.ID] = true
	}

	deals := map[int]bool{}
	for _, d := range f.Deals {
		if deals[d.ID] {
			return fmt.Errorf("duplicate deal id %d", d.ID)
		}
		if !products[d.ProductID] {
			return fmt.Errorf("deal %d refers to unknown product %d", d.ID, d.ProductID)
		}
		deals[d.ID] = true
	}

	return nil
}
