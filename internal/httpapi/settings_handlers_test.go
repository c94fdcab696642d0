package httpapi

import (
	"encoding/json"
	"errors"
	"testing"

	"pgmon/internal/domain"
)

func TestSettingValueFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		typ     domain.SettingType
		raw     string
		want    string
		wantErr bool
	}{
		{"number into int", domain.SettingInt, `600`, "600", false},
		{"string into int", domain.SettingInt, `"600"`, "600", false},
		{"bool into bool", domain.SettingBool, `true`, "true", false},
		{"string into string", domain.SettingString, `"hello"`, "hello", false},
		{"string into duration", domain.SettingDuration, `"90s"`, "1m30s", false},
		{"float into int", domain.SettingInt, `600.5`, "", true},
		{"number into bool", domain.SettingBool, `1`, "", true},
		{"bool into int", domain.SettingInt, `true`, "", true},
		{"unparsable string", domain.SettingInt, `"abc"`, "", true},
		{"object", domain.SettingInt, `{"v":1}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := settingValueFromJSON("k", tt.typ, json.RawMessage(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidSettingType) {
					t.Fatalf("settingValueFromJSON() error = %v, want ErrInvalidSettingType", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("settingValueFromJSON() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("value = %q, want %q", got.String(), tt.want)
			}
			if got.Type() != tt.typ {
				t.Errorf("type = %q, want %q", got.Type(), tt.typ)
			}
		})
	}
}
