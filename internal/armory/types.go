package armory

import (
	"errors"
	"fmt"

	"github.com/zeusync/universe/internal/core/universe"
)

var ErrUnknownEnchantment = errors.New("unknown enchantment")

// Material is what forged blades are made of.
type Material struct {
	universe.Enum
	Hardness int
}

type Enchantment struct {
	universe.Enum
	Power int
}

// Durability wears down with use. Enchantments reinforce it.
type Durability struct {
	universe.ComponentBase
	Max     int `json:"max"`
	Current int `json:"current"`
}

func (*Durability) Kind() universe.Kind { return "durability" }

func (d *Durability) OnInitialized(b *universe.Builder) error {
	limit, err := universe.Required[int](b, "durability")
	if err != nil {
		return err
	}
	if limit <= 0 {
		return fmt.Errorf("durability must be positive, got %d", limit)
	}
	d.Max, d.Current = limit, limit
	return nil
}

// Wear takes n points off the current durability and reports whether the weapon
// still holds.
func (d *Durability) Wear(n int) bool {
	d.Current = max(d.Current-n, 0)
	return d.Current > 0
}

type Edge struct {
	universe.ComponentBase
	Sharpness float64 `json:"sharpness"`
}

func (*Edge) Kind() universe.Kind { return "edge" }

func (e *Edge) OnInitialized(b *universe.Builder) error {
	hardness, err := universe.Required[float64](b, "hardness")
	if err != nil {
		return err
	}
	e.Sharpness = hardness * 1.5
	return nil
}

// Composition records the material of a forged model.
type Composition struct {
	universe.ComponentBase
	Material string `json:"material"`
}

func (*Composition) Kind() universe.Kind { return "material" }

type Enchanted struct {
	universe.ComponentBase
	Enchantment string `json:"enchantment"`
	Power       int    `json:"power"`
}

func (*Enchanted) Kind() universe.Kind { return "enchantment" }

func (e *Enchanted) OnInitialized(b *universe.Builder) error {
	key, err := universe.Required[string](b, "enchantment")
	if err != nil {
		return err
	}
	v, ok := universe.EnumByKey[*Enchantment](b.Universe(), key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEnchantment, key)
	}
	e.Enchantment, e.Power = key, v.Power
	return nil
}

// reinforce is the contract between an enchantment and the durability it shares
// an owner with.
func reinforce(a, b universe.Component) (universe.Component, universe.Component, error) {
	e, ok := a.(*Enchanted)
	if !ok {
		return nil, nil, fmt.Errorf("reinforce: got %T", a)
	}
	d, ok := b.(*Durability)
	if !ok {
		return nil, nil, fmt.Errorf("reinforce: got %T", b)
	}
	next := *d
	next.Max += e.Power * 10
	next.Current = next.Max
	return e, &next, nil
}

// Weapon is the model built by every weapon archetype.
type Weapon struct {
	universe.ModelWithComponents
	universe.Unique
	Name   string `json:"name"`
	Damage int    `json:"damage"`
}

// Durability returns the weapon's durability component, if any.
func (w *Weapon) Durability() (*Durability, bool) {
	return universe.ComponentOf[*Durability](w)
}

// Quiver holds arrows for bows.
type Quiver struct {
	universe.ModelBase
	Arrows int `json:"arrows"`
}

func (q *Quiver) OnInitialized(b *universe.Builder) error {
	q.Arrows = universe.Param(b, "arrows", q.Arrows)
	return nil
}
