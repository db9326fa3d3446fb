package rules

import (
	"encoding/json"
	"fmt"

	"mailroom/internal/models"
)

// SkipConfig is the config blob of a skip action.
type SkipConfig struct {
	Reason string `json:"reason"`
}

// SetFieldConfig is the config blob of a set_field action.
type SetFieldConfig struct {
	FieldName  string      `json:"field_name"`
	FieldValue interface{} `json:"field_value"`
}

// mutableFields are the canonical-record fields set_field may touch.
var mutableFields = map[string]bool{
	"dispatcher_id": true,
}

// applyAction executes one action against the effect under construction.
// A failed action is recorded in the effect's errors and does not stop
// later actions of the same rule.
func (e *Engine) applyAction(rule *models.Rule, action models.Action, email *models.ParsedEmail, effect *Effect) {
	switch action.Type {
	case models.ActionSkip:
		var cfg SkipConfig
		if len(action.Config) > 0 {
			if err := json.Unmarshal(action.Config, &cfg); err != nil {
				effect.Errors = append(effect.Errors,
					fmt.Sprintf("rule %q: bad skip config: %v", rule.Name, err))
			}
		}
		effect.ShouldSkip = true
		if cfg.Reason != "" {
			effect.SkipReason = cfg.Reason
		}

	case models.ActionSetField:
		var cfg SetFieldConfig
		if err := json.Unmarshal(action.Config, &cfg); err != nil {
			effect.Errors = append(effect.Errors,
				fmt.Sprintf("rule %q: bad set_field config: %v", rule.Name, err))
			return
		}
		if !mutableFields[cfg.FieldName] {
			effect.Errors = append(effect.Errors,
				fmt.Sprintf("rule %q: set_field does not allow field %q", rule.Name, cfg.FieldName))
			return
		}
		if err := setField(email, cfg.FieldName, cfg.FieldValue); err != nil {
			effect.Errors = append(effect.Errors,
				fmt.Sprintf("rule %q: %v", rule.Name, err))
			return
		}
		effect.FieldModifications[cfg.FieldName] = cfg.FieldValue

	default:
		effect.Errors = append(effect.Errors,
			fmt.Sprintf("rule %q: unknown action type %q", rule.Name, action.Type))
	}
}

// setField mutates the canonical record. JSON numbers arrive as float64.
func setField(email *models.ParsedEmail, name string, value interface{}) error {
	switch name {
	case "dispatcher_id":
		switch v := value.(type) {
		case float64:
			id := int64(v)
			email.DispatcherID = &id
		case nil:
			email.DispatcherID = nil
		default:
			return fmt.Errorf("set_field dispatcher_id: unsupported value %T", value)
		}
		return nil
	}
	return fmt.Errorf("set_field: unknown field %q", name)
}
