package armory

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/universe/internal/core/loader"
)

var (
	//go:embed content.yaml
	defaultContent []byte

	//go:embed LoadOrder.json
	defaultLoadOrder []byte
)

var ErrInvalidContent = errors.New("invalid armory content")

// Content describes the armory in JSON or YAML.
type Content struct {
	Materials          []MaterialDef        `json:"materials" yaml:"materials"`
	Enchantments       []EnchantmentDef     `json:"enchantments" yaml:"enchantments"`
	DefaultEnchantment string               `json:"default_enchantment" yaml:"default_enchantment"`
	Weapons            map[string]WeaponDef `json:"weapons" yaml:"weapons"`
	QuiverArrows       int                  `json:"quiver_arrows" yaml:"quiver_arrows"`
}

type MaterialDef struct {
	Key      string `json:"key" yaml:"key"`
	Hardness int    `json:"hardness" yaml:"hardness"`
}

type EnchantmentDef struct {
	Key   string `json:"key" yaml:"key"`
	Power int    `json:"power" yaml:"power"`
}

type WeaponDef struct {
	Name       string   `json:"name" yaml:"name"`
	Damage     int      `json:"damage" yaml:"damage"`
	Durability int      `json:"durability" yaml:"durability"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// LoadJSON loads content from a JSON reader.
func LoadJSON(r io.Reader) (*Content, error) {
	var c Content
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode armory content: %w", err)
	}
	return &c, c.Validate()
}

// LoadYAML loads content from a YAML reader.
func LoadYAML(r io.Reader) (*Content, error) {
	var c Content
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode armory content: %w", err)
	}
	return &c, c.Validate()
}

// DefaultContent returns the bundled armory.
func DefaultContent() *Content {
	c, err := LoadYAML(bytes.NewReader(defaultContent))
	if err != nil {
		panic(err)
	}
	return c
}

// LoadOrder returns the bundled load order of the armory modules.
func LoadOrder() []loader.Entry {
	entries, err := loader.ParseLoadOrder(defaultLoadOrder)
	if err != nil {
		panic(err)
	}
	return entries
}

func (c *Content) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for _, m := range c.Materials {
		switch {
		case m.Key == "":
			errs = append(errs, fmt.Errorf("%w: material without key", ErrInvalidContent))
		case seen[m.Key]:
			errs = append(errs, fmt.Errorf("%w: material %q listed twice", ErrInvalidContent, m.Key))
		case m.Hardness <= 0:
			errs = append(errs, fmt.Errorf("%w: material %q has hardness %d", ErrInvalidContent, m.Key, m.Hardness))
		}
		seen[m.Key] = true
	}

	enchantments := make(map[string]bool)
	for _, e := range c.Enchantments {
		if e.Key == "" {
			errs = append(errs, fmt.Errorf("%w: enchantment without key", ErrInvalidContent))
		}
		enchantments[e.Key] = true
	}
	if c.DefaultEnchantment != "" && !enchantments[c.DefaultEnchantment] {
		errs = append(errs, fmt.Errorf("%w: unknown default enchantment %q", ErrInvalidContent, c.DefaultEnchantment))
	}

	for _, name := range []string{weaponSword, weaponBow, weaponBlade} {
		w, ok := c.Weapons[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: weapon %q missing", ErrInvalidContent, name))
			continue
		}
		if w.Durability <= 0 {
			errs = append(errs, fmt.Errorf("%w: weapon %q has durability %d", ErrInvalidContent, name, w.Durability))
		}
	}
	return errors.Join(errs...)
}
