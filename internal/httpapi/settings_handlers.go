package httpapi

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"pgmon/internal/domain"
)

// handleGetSettings returns every runtime setting with its typed value.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings().All(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings applies a batch of setting changes. Values arrive
// as their natural JSON types; each is parsed against the key's declared
// type and the whole batch is validated before anything is written.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(body) == 0 {
		s.respondError(w, r, wrapInvalid("no settings to update"))
		return
	}

	updates := make(map[string]domain.SettingValue, len(body))
	for key, raw := range body {
		current, err := s.store.Settings().Get(r.Context(), key)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		value, err := settingValueFromJSON(key, current.Value.Type(), raw)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		updates[key] = value
	}

	if err := s.store.Settings().Update(r.Context(), updates); err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("settings updated", "count", len(updates), "by", claimsFrom(r).Username)
	settings, err := s.store.Settings().All(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}

// settingValueFromJSON converts one raw JSON value into the key's declared
// type. Strings are parsed, numbers must be integral, and bools must land
// on bool settings.
func settingValueFromJSON(key string, typ domain.SettingType, raw json.RawMessage) (domain.SettingValue, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.SettingValue{}, fmt.Errorf("%w: %s", domain.ErrInvalidSettingType, key)
	}
	switch value := v.(type) {
	case string:
		return domain.ParseSettingValue(typ, value)
	case bool:
		if typ != domain.SettingBool {
			return domain.SettingValue{}, fmt.Errorf("%w: %s expects %s", domain.ErrInvalidSettingType, key, typ)
		}
		return domain.BoolValue(value), nil
	case float64:
		if typ != domain.SettingInt || value != math.Trunc(value) {
			return domain.SettingValue{}, fmt.Errorf("%w: %s expects %s", domain.ErrInvalidSettingType, key, typ)
		}
		return domain.IntValue(int64(value)), nil
	default:
		return domain.SettingValue{}, fmt.Errorf("%w: %s", domain.ErrInvalidSettingType, key)
	}
}
