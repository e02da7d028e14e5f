package armory

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/zeusync/universe/internal/core/universe"
)

const (
	weaponSword = "sword"
	weaponBow   = "bow"
	weaponBlade = "blade"
)

var (
	weaponType     = reflect.TypeFor[*Weapon]()
	durabilityType = reflect.TypeFor[*Durability]()
	edgeType       = reflect.TypeFor[*Edge]()
	enchantedType  = reflect.TypeFor[*Enchanted]()
	quiverType     = reflect.TypeFor[*Quiver]()
	materialType   = reflect.TypeFor[*Material]()
)

var errNoQuiver = errors.New("bows need a registered quiver model")

// weapon is embedded by every weapon archetype.
type weapon struct {
	universe.ArchetypeBase
	def WeaponDef
}

func (w *weapon) setup() error {
	w.SetModelType(weaponType)
	w.SetDefault("name", w.def.Name)
	w.SetDefault("damage", w.def.Damage)
	w.SetDefault("durability", w.def.Durability)
	w.Tag(w.def.Tags...)
	return w.AddInitialComponent(durabilityType)
}

func (w *weapon) ConfigureModel(b *universe.Builder, m universe.Model) (universe.Model, error) {
	wm, ok := m.(*Weapon)
	if !ok {
		return nil, fmt.Errorf("weapon archetype built %T", m)
	}
	name, err := universe.Required[string](b, "name")
	if err != nil {
		return nil, err
	}
	damage, err := universe.Required[int](b, "damage")
	if err != nil {
		return nil, err
	}
	wm.Name, wm.Damage = name, damage

	// component builders only see the shared parameters
	durability, err := universe.Required[int](b, "durability")
	if err != nil {
		return nil, err
	}
	b.Set("durability", durability)
	if v, ok := b.Get("enchantment"); ok {
		b.Set("enchantment", v)
	}
	return wm, nil
}

type Sword struct {
	weapon
}

func (s *Sword) Initialize(*universe.Universe) error { return s.setup() }

// Bow refuses to finish loading until a quiver model exists.
type Bow struct {
	weapon
}

func (b *Bow) Initialize(*universe.Universe) error { return b.setup() }

func (b *Bow) Finish() error {
	if !b.Universe().Models.Has(quiverType) {
		return errNoQuiver
	}
	return nil
}

// ForgedBlade is generated once per Material.
type ForgedBlade struct {
	weapon
	Material *Material
}

func (f *ForgedBlade) Initialize(*universe.Universe) error {
	if err := f.setup(); err != nil {
		return err
	}
	f.SetDefault("name", f.Material.Key()+" "+strings.ToLower(f.def.Name))
	f.SetDefault("damage", f.def.Damage+f.Material.Hardness/2)
	f.SetDefault("hardness", f.Material.Hardness)
	if err := f.AddInitialComponent(edgeType); err != nil {
		return err
	}
	return f.AddInitialComponentFunc("material", func(b *universe.Builder) (universe.Component, error) {
		c, err := universe.MakeComponent[*Composition](b.Universe(), nil)
		if err != nil {
			return nil, err
		}
		c.Material = f.Material.Key()
		return c, nil
	})
}

func (f *ForgedBlade) ConfigureModel(b *universe.Builder, m universe.Model) (universe.Model, error) {
	m, err := f.weapon.ConfigureModel(b, m)
	if err != nil {
		return nil, err
	}
	b.Set("hardness", universe.Param(b, "hardness", f.Material.Hardness))
	return m, nil
}
