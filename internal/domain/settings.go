package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SettingType tags the declared type of a runtime setting value.
type SettingType string

const (
	// SettingInt is a 64-bit integer value.
	SettingInt SettingType = "int"

	// SettingBool is a boolean value.
	SettingBool SettingType = "bool"

	// SettingDuration is a duration stored in Go duration syntax.
	SettingDuration SettingType = "duration"

	// SettingString is an opaque string value.
	SettingString SettingType = "string"
)

// IsValid returns true if the setting type is valid.
func (t SettingType) IsValid() bool {
	switch t {
	case SettingInt, SettingBool, SettingDuration, SettingString:
		return true
	default:
		return false
	}
}

// SettingValue is a typed setting value. The zero value is an empty string
// setting. Exactly one variant is populated, selected by Type.
type SettingValue struct {
	typ SettingType
	i   int64
	b   bool
	d   time.Duration
	s   string
}

// IntValue builds an int setting value.
func IntValue(v int64) SettingValue { return SettingValue{typ: SettingInt, i: v} }

// BoolValue builds a bool setting value.
func BoolValue(v bool) SettingValue { return SettingValue{typ: SettingBool, b: v} }

// DurationValue builds a duration setting value.
func DurationValue(v time.Duration) SettingValue {
	return SettingValue{typ: SettingDuration, d: v}
}

// StringValue builds a string setting value.
func StringValue(v string) SettingValue { return SettingValue{typ: SettingString, s: v} }

// ParseSettingValue parses the stored string form into the declared type.
func ParseSettingValue(typ SettingType, raw string) (SettingValue, error) {
	switch typ {
	case SettingInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return SettingValue{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidSettingType, raw)
		}
		return IntValue(n), nil
	case SettingBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return SettingValue{}, fmt.Errorf("%w: %q is not a bool", ErrInvalidSettingType, raw)
		}
		return BoolValue(b), nil
	case SettingDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return SettingValue{}, fmt.Errorf("%w: %q is not a duration", ErrInvalidSettingType, raw)
		}
		return DurationValue(d), nil
	case SettingString:
		return StringValue(raw), nil
	default:
		return SettingValue{}, fmt.Errorf("%w: %q", ErrInvalidSettingType, typ)
	}
}

// Type returns the variant tag.
func (v SettingValue) Type() SettingType {
	if v.typ == "" {
		return SettingString
	}
	return v.typ
}

// Int returns the integer variant and whether it is the active one.
func (v SettingValue) Int() (int64, bool) { return v.i, v.typ == SettingInt }

// Bool returns the bool variant and whether it is the active one.
func (v SettingValue) Bool() (bool, bool) { return v.b, v.typ == SettingBool }

// Duration returns the duration variant and whether it is the active one.
func (v SettingValue) Duration() (time.Duration, bool) { return v.d, v.typ == SettingDuration }

// String returns the storable string form of whichever variant is active.
func (v SettingValue) String() string {
	switch v.typ {
	case SettingInt:
		return strconv.FormatInt(v.i, 10)
	case SettingBool:
		return strconv.FormatBool(v.b)
	case SettingDuration:
		return v.d.String()
	default:
		return v.s
	}
}

// MarshalJSON renders the value as its natural JSON type: a number for int
// settings, a bool for bool settings, and a string otherwise.
func (v SettingValue) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case SettingInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case SettingBool:
		return []byte(strconv.FormatBool(v.b)), nil
	default:
		return json.Marshal(v.String())
	}
}

// Setting is one runtime-tunable row from the warehouse settings table.
type Setting struct {
	// Key is the setting name.
	Key string `json:"key"`

	// Value is the typed value.
	Value SettingValue `json:"value"`

	// Description is the operator-facing explanation.
	Description string `json:"description"`

	// UpdatedAt is when the value last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingBounds is an inclusive numeric range for an int setting.
type SettingBounds struct {
	Min int64
	Max int64
}

// settingBounds validates the tunable intervals and retention windows.
// Keys absent here accept any value of their declared type.
var settingBounds = map[string]SettingBounds{
	"collect_interval":     {Min: 60, Max: 86400},
	"size_update_interval": {Min: 300, Max: 86400},
	"db_check_interval":    {Min: 300, Max: 86400},
	"retention_months":     {Min: 1, Max: 120},
	"audit_retention_days": {Min: 7, Max: 3650},
	"logs_retention_days":  {Min: 7, Max: 3650},
}

// BoundsFor returns the validation range for a setting key, if any.
func BoundsFor(key string) (SettingBounds, bool) {
	b, ok := settingBounds[key]
	return b, ok
}

// ValidateSetting checks a typed value against the per-key bounds.
func ValidateSetting(key string, v SettingValue) error {
	b, ok := settingBounds[key]
	if !ok {
		return nil
	}
	n, isInt := v.Int()
	if !isInt {
		return fmt.Errorf("%w: %s must be an integer", ErrInvalidSettingType, key)
	}
	if n < b.Min || n > b.Max {
		return fmt.Errorf("%w: %s must be between %d and %d", ErrSettingOutOfRange, key, b.Min, b.Max)
	}
	return nil
}

// DefaultSettings are the rows seeded into an empty settings table.
func DefaultSettings() []Setting {
	return []Setting{
		{Key: "collect_interval", Value: IntValue(600), Description: "Statistics collection interval (seconds)"},
		{Key: "size_update_interval", Value: IntValue(1800), Description: "Database size refresh interval (seconds)"},
		{Key: "db_check_interval", Value: IntValue(1800), Description: "Database topology check interval (seconds)"},
		{Key: "retention_months", Value: IntValue(12), Description: "Statistics retention (months)"},
		{Key: "audit_retention_days", Value: IntValue(90), Description: "Audit event retention (days)"},
		{Key: "logs_retention_days", Value: IntValue(30), Description: "System log retention (days)"},
	}
}
