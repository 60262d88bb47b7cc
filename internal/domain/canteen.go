package domain

import "strings"

type Canteen string

const (
	CanteenA Canteen = "A"
	CanteenB Canteen = "B"
	CanteenC Canteen = "C"
	CanteenD Canteen = "D"
)

// GlobalCollection holds a copy of every order across all canteens.
const GlobalCollection = "orders_all"

// Canteens is the closed set of canteens, in the order they are iterated.
var Canteens = []Canteen{CanteenA, CanteenB, CanteenC, CanteenD}

// ParseCanteen accepts the canteen tag carried by a catalog item. Matching is
// case-insensitive; anything outside the known set is an InvalidCanteenError.
func ParseCanteen(tag string) (Canteen, error) {
	c := Canteen(strings.ToUpper(strings.TrimSpace(tag)))
	if !c.Valid() {
		return "", &InvalidCanteenError{Value: tag}
	}
	return c, nil
}

func (c Canteen) Valid() bool {
	switch c {
	case CanteenA, CanteenB, CanteenC, CanteenD:
		return true
	}
	return false
}

// Collection is the canteen-scoped collection name. Existing data is keyed on
// this exact naming, so it must not change.
func (c Canteen) Collection() string {
	return "orders_" + strings.ToLower(string(c))
}

func (c Canteen) String() string {
	return string(c)
}

// IsCollection reports whether name is one of the known order collections.
func IsCollection(name string) bool {
	if name == GlobalCollection {
		return true
	}
	for _, c := range Canteens {
		if c.Collection() == name {
			return true
		}
	}
	return false
}

// Scope selects the orders a bulk operation applies to: one canteen or all.
type Scope struct {
	Canteen Canteen
	All     bool
}

var AllCanteens = Scope{All: true}

func ParseScope(s string) (Scope, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return AllCanteens, nil
	}
	c, err := ParseCanteen(s)
	if err != nil {
		return Scope{}, err
	}
	return Scope{Canteen: c}, nil
}

// Canteens lists the canteens covered by the scope.
func (s Scope) Canteens() []Canteen {
	if s.All {
		return Canteens
	}
	return []Canteen{s.Canteen}
}

func (s Scope) Includes(c Canteen) bool {
	return s.All || s.Canteen == c
}

func (s Scope) String() string {
	if s.All {
		return "all"
	}
	return string(s.Canteen)
}
