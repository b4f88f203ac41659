package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// customPrefix marks a stored custom variant: "custom:<label>".
const customPrefix = "custom:"

// MaxCustomLabel bounds the free-text label of a custom variant.
const MaxCustomLabel = 50

// CategoryKind is one of the built-in quest categories, or CategoryCustom.
type CategoryKind string

const (
	CategoryGym     CategoryKind = "gym"
	CategoryFood    CategoryKind = "food"
	CategoryGame    CategoryKind = "game"
	CategoryCommute CategoryKind = "commute"
	CategoryStudy   CategoryKind = "study"
	CategoryCustom  CategoryKind = "custom"
)

var categoryKinds = map[CategoryKind]bool{
	CategoryGym: true, CategoryFood: true, CategoryGame: true,
	CategoryCommute: true, CategoryStudy: true, CategoryCustom: true,
}

// Category is a tagged variant: a built-in kind, or Custom carrying a label.
// The zero value is invalid. A label can only exist on the custom kind.
type Category struct {
	kind  CategoryKind
	label string
}

// NewCategory builds a Category from its kind and, for custom, its label.
func NewCategory(kind CategoryKind, label string) (Category, error) {
	k, l, err := parseVariant(string(kind), label, func(s string) bool { return categoryKinds[CategoryKind(s)] })
	if err != nil {
		return Category{}, fmt.Errorf("category: %w", err)
	}
	return Category{kind: CategoryKind(k), label: l}, nil
}

// CustomCategory is shorthand for NewCategory(CategoryCustom, label).
func CustomCategory(label string) (Category, error) {
	return NewCategory(CategoryCustom, label)
}

func (c Category) Kind() CategoryKind { return c.kind }

// Label is empty for every kind except custom.
func (c Category) Label() string { return c.label }

func (c Category) IsZero() bool { return c.kind == "" }

func (c Category) String() string { return encodeVariant(string(c.kind), c.label) }

func (c Category) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("category: empty value")
	}
	return c.String(), nil
}

func (c *Category) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return fmt.Errorf("category: %w", err)
	}
	kind, label := decodeVariant(raw)
	parsed, err := NewCategory(CategoryKind(kind), label)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// VibeKind is one of the built-in intensity levels, or VibeCustom.
type VibeKind string

const (
	VibeChill        VibeKind = "chill"
	VibeIntermediate VibeKind = "intermediate"
	VibeHighEnergy   VibeKind = "high_energy"
	VibeIntense      VibeKind = "intense"
	VibeCustom       VibeKind = "custom"
)

var vibeKinds = map[VibeKind]bool{
	VibeChill: true, VibeIntermediate: true, VibeHighEnergy: true,
	VibeIntense: true, VibeCustom: true,
}

// Vibe is the intensity of a quest: a built-in level or Custom with a label.
type Vibe struct {
	kind  VibeKind
	label string
}

func NewVibe(kind VibeKind, label string) (Vibe, error) {
	k, l, err := parseVariant(string(kind), label, func(s string) bool { return vibeKinds[VibeKind(s)] })
	if err != nil {
		return Vibe{}, fmt.Errorf("vibe level: %w", err)
	}
	return Vibe{kind: VibeKind(k), label: l}, nil
}

// DefaultVibe is used when a quest is created without a vibe level.
func DefaultVibe() Vibe { return Vibe{kind: VibeChill} }

func (v Vibe) Kind() VibeKind { return v.kind }

func (v Vibe) Label() string { return v.label }

func (v Vibe) IsZero() bool { return v.kind == "" }

func (v Vibe) String() string { return encodeVariant(string(v.kind), v.label) }

func (v Vibe) Value() (driver.Value, error) {
	if v.IsZero() {
		return DefaultVibe().String(), nil
	}
	return v.String(), nil
}

func (v *Vibe) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return fmt.Errorf("vibe level: %w", err)
	}
	kind, label := decodeVariant(raw)
	parsed, err := NewVibe(VibeKind(kind), label)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func parseVariant(kind, label string, known func(string) bool) (string, string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	label = strings.TrimSpace(label)
	if !known(kind) {
		return "", "", fmt.Errorf("unknown value %q", kind)
	}
	if kind != "custom" {
		if label != "" {
			return "", "", fmt.Errorf("label is only allowed for custom values")
		}
		return kind, "", nil
	}
	if label == "" {
		return "", "", fmt.Errorf("label required for custom values")
	}
	if len([]rune(label)) > MaxCustomLabel {
		return "", "", fmt.Errorf("label longer than %d characters", MaxCustomLabel)
	}
	return kind, label, nil
}

func encodeVariant(kind, label string) string {
	if kind == "custom" {
		return customPrefix + label
	}
	return kind
}

func decodeVariant(raw string) (string, string) {
	if strings.HasPrefix(raw, customPrefix) {
		return "custom", strings.TrimPrefix(raw, customPrefix)
	}
	return raw, ""
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("null value")
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}
