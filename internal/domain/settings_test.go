package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseSettingValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     SettingType
		raw     string
		want    string
		wantErr bool
	}{
		{name: "int", typ: SettingInt, raw: "600", want: "600"},
		{name: "negative int", typ: SettingInt, raw: "-5", want: "-5"},
		{name: "bad int", typ: SettingInt, raw: "abc", wantErr: true},
		{name: "bool true", typ: SettingBool, raw: "true", want: "true"},
		{name: "bad bool", typ: SettingBool, raw: "yes please", wantErr: true},
		{name: "duration", typ: SettingDuration, raw: "90s", want: "1m30s"},
		{name: "bad duration", typ: SettingDuration, raw: "90", wantErr: true},
		{name: "string", typ: SettingString, raw: "anything at all", want: "anything at all"},
		{name: "unknown type", typ: SettingType("float"), raw: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseSettingValue(tt.typ, tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSettingValue(%q, %q) expected error, got nil", tt.typ, tt.raw)
				}
				if !errors.Is(err, ErrInvalidSettingType) {
					t.Errorf("error = %v, want ErrInvalidSettingType", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSettingValue(%q, %q) unexpected error: %v", tt.typ, tt.raw, err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if v.Type() != tt.typ {
				t.Errorf("Type() = %q, want %q", v.Type(), tt.typ)
			}
		})
	}
}

func TestSettingValue_Variants(t *testing.T) {
	if n, ok := IntValue(42).Int(); !ok || n != 42 {
		t.Errorf("IntValue(42).Int() = %d, %v, want 42, true", n, ok)
	}
	if _, ok := IntValue(42).Bool(); ok {
		t.Error("IntValue(42).Bool() reported the bool variant as active")
	}
	if d, ok := DurationValue(2 * time.Minute).Duration(); !ok || d != 2*time.Minute {
		t.Errorf("DurationValue(2m).Duration() = %v, %v, want 2m0s, true", d, ok)
	}
	if b, ok := BoolValue(true).Bool(); !ok || !b {
		t.Errorf("BoolValue(true).Bool() = %v, %v, want true, true", b, ok)
	}
}

func TestSettingValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value SettingValue
		want  string
	}{
		{name: "int", value: IntValue(600), want: "600"},
		{name: "bool", value: BoolValue(false), want: "false"},
		{name: "duration", value: DurationValue(90 * time.Second), want: `"1m30s"`},
		{name: "string", value: StringValue("hello"), want: `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal() unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateSetting(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   SettingValue
		wantErr error
	}{
		{name: "collect_interval min", key: "collect_interval", value: IntValue(60)},
		{name: "collect_interval max", key: "collect_interval", value: IntValue(86400)},
		{name: "collect_interval below", key: "collect_interval", value: IntValue(59), wantErr: ErrSettingOutOfRange},
		{name: "collect_interval above", key: "collect_interval", value: IntValue(86401), wantErr: ErrSettingOutOfRange},
		{name: "size_update_interval below", key: "size_update_interval", value: IntValue(299), wantErr: ErrSettingOutOfRange},
		{name: "db_check_interval ok", key: "db_check_interval", value: IntValue(1800)},
		{name: "retention_months min", key: "retention_months", value: IntValue(1)},
		{name: "retention_months above", key: "retention_months", value: IntValue(121), wantErr: ErrSettingOutOfRange},
		{name: "audit_retention_days below", key: "audit_retention_days", value: IntValue(6), wantErr: ErrSettingOutOfRange},
		{name: "wrong variant", key: "collect_interval", value: StringValue("600"), wantErr: ErrInvalidSettingType},
		{name: "unbounded key", key: "greeting", value: StringValue("hello")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSetting(tt.key, tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSetting(%q) unexpected error: %v", tt.key, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSetting(%q) error = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	defaults := DefaultSettings()

	keys := make(map[string]bool, len(defaults))
	for _, s := range defaults {
		if keys[s.Key] {
			t.Errorf("duplicate default setting %q", s.Key)
		}
		keys[s.Key] = true

		if err := ValidateSetting(s.Key, s.Value); err != nil {
			t.Errorf("default for %q does not pass its own bounds: %v", s.Key, err)
		}
		if s.Description == "" {
			t.Errorf("default for %q has no description", s.Key)
		}
	}

	for _, want := range []string{"collect_interval", "size_update_interval", "db_check_interval", "retention_months", "audit_retention_days"} {
		if !keys[want] {
			t.Errorf("default settings missing %q", want)
		}
	}
}
