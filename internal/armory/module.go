// Package armory is a content module set for the universe loader: materials,
// enchantments, weapon components and weapon archetypes, including one forged
// blade per material.
package armory

import (
	"errors"
	"reflect"

	"github.com/zeusync/universe/internal/core/loader"
	"github.com/zeusync/universe/internal/core/universe"
)

// Module names, as listed in the bundled load order.
const (
	CoreModule         = "Armory.Core.dll"
	WeaponsModule      = "Armory.Weapons.dll"
	EnchantmentsModule = "Armory.Enchantments.dll"
)

var errComponentsPending = errors.New("weapon components are not registered yet")

// Modules returns the armory modules in discovery order, which is not their load
// order.
func Modules(c *Content) []loader.Module {
	return []loader.Module{
		loader.NewModule(EnchantmentsModule, c.classifyEnchantments),
		loader.NewModule(WeaponsModule, c.classifyWeapons),
		loader.NewModule(CoreModule, c.classifyCore),
	}
}

func Source(c *Content) loader.ModuleSource {
	return loader.Modules(Modules(c)...)
}

func (c *Content) classifyCore(cat *loader.Catalog) error {
	loader.EnumOf(cat, func(*universe.Universe) ([]*Material, error) {
		out := make([]*Material, len(c.Materials))
		for i, m := range c.Materials {
			out[i] = &Material{Enum: universe.NewEnum(m.Key), Hardness: m.Hardness}
		}
		return out, nil
	})
	loader.EnumOf(cat, func(*universe.Universe) ([]*Enchantment, error) {
		out := make([]*Enchantment, len(c.Enchantments))
		for i, e := range c.Enchantments {
			out[i] = &Enchantment{Enum: universe.NewEnum(e.Key), Power: e.Power}
		}
		return out, nil
	})

	loader.ComponentOf[Durability](cat)
	loader.ComponentOf[Edge](cat)
	loader.ComponentOf[Composition](cat, materialType)
	cat.Component(loader.ComponentDescriptor{
		Type:         enchantedType,
		New:          func() universe.Component { return &Enchanted{} },
		Dependencies: loader.Deps(reflect.TypeFor[*Enchantment](), durabilityType),
		Contracts:    []loader.ContractDecl{{With: "durability", Transform: reinforce}},
		Defaults:     map[string]any{"enchantment": c.DefaultEnchantment},
	})

	cat.Model(loader.ModelDescriptor{
		Type: quiverType,
		New: func(*universe.Builder) (universe.Model, error) {
			return &Quiver{Arrows: c.QuiverArrows}, nil
		},
	})
	return nil
}

func (c *Content) classifyWeapons(cat *loader.Catalog) error {
	base := reflect.TypeFor[weapon]()
	cat.Hook(base, func(u *universe.Universe) error {
		if _, ok := universe.FactoryFor[*Durability](u); !ok {
			return errComponentsPending
		}
		return nil
	})

	cat.Archetype(loader.ArchetypeDescriptor{
		Type:  reflect.TypeFor[*Sword](),
		New:   func() universe.Archetype { return &Sword{weapon{def: c.Weapons[weaponSword]}} },
		Bases: loader.Deps(base),
	})
	cat.Archetype(loader.ArchetypeDescriptor{
		Type:  reflect.TypeFor[*Bow](),
		New:   func() universe.Archetype { return &Bow{weapon{def: c.Weapons[weaponBow]}} },
		Bases: loader.Deps(base),
	})
	cat.Archetype(loader.ArchetypeDescriptor{
		Type:  reflect.TypeFor[*ForgedBlade](),
		Bases: loader.Deps(base),
		Splay: &loader.Splay{
			Enum: materialType,
			New: func(v universe.Enumeration) (universe.Archetype, error) {
				return &ForgedBlade{weapon: weapon{def: c.Weapons[weaponBlade]}, Material: v.(*Material)}, nil
			},
			Lazy: true,
		},
	})
	cat.Model(loader.ModelDescriptor{
		Type:         weaponType,
		Archetype:    reflect.TypeFor[*Sword](),
		Dependencies: loader.Deps(durabilityType),
	})
	return nil
}

// classifyEnchantments enchants every archetype tagged "enchantable" once all
// archetypes exist.
func (c *Content) classifyEnchantments(cat *loader.Catalog) error {
	cat.Modifier(loader.ModifierDescriptor{
		Type: enchantedType,
		Modify: func(u *universe.Universe) error {
			for _, a := range u.Archetypes.ByTag("enchantable") {
				if err := universe.BaseOf(a).AddInitialComponent(enchantedType); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return nil
}
