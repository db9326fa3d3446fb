package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mailroom/internal/models"
)

// LoadActiveRules returns all active rules with their condition groups,
// conditions and actions materialized, in evaluation order: rules by
// priority descending then id ascending, nested rows by their order
// column then id.
func (d *DB) LoadActiveRules(ctx context.Context) ([]*models.Rule, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, name, description, is_active, priority, stop_on_match, global_group_logic
		FROM email_rules
		WHERE is_active = 1
		ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []*models.Rule
	for rows.Next() {
		var rule models.Rule
		var description sql.NullString
		var isActive, stopOnMatch int64
		var logic string
		err := rows.Scan(&rule.ID, &rule.Name, &description, &isActive,
			&rule.Priority, &stopOnMatch, &logic)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Description = description.String
		rule.IsActive = isActive != 0
		rule.StopOnMatch = stopOnMatch != 0
		rule.GroupLogic = models.GroupLogic(logic)
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	for _, rule := range rules {
		if rule.Groups, err = d.loadConditionGroups(ctx, rule.ID); err != nil {
			return nil, err
		}
		if rule.Actions, err = d.loadActions(ctx, rule.ID); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (d *DB) loadConditionGroups(ctx context.Context, ruleID int64) ([]models.ConditionGroup, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, rule_id, group_logic, group_order
		FROM rule_condition_groups
		WHERE rule_id = ?
		ORDER BY group_order ASC, id ASC`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query condition groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []models.ConditionGroup
	for rows.Next() {
		var group models.ConditionGroup
		var logic string
		if err := rows.Scan(&group.ID, &group.RuleID, &logic, &group.Order); err != nil {
			return nil, fmt.Errorf("failed to scan condition group: %w", err)
		}
		group.Logic = models.GroupLogic(logic)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate condition groups: %w", err)
	}

	for i := range groups {
		if groups[i].Conditions, err = d.loadConditions(ctx, groups[i].ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (d *DB) loadConditions(ctx context.Context, groupID int64) ([]models.Condition, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, group_id, field_type, operator, match_value, case_sensitive, condition_order
		FROM rule_conditions
		WHERE group_id = ?
		ORDER BY condition_order ASC, id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conditions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conditions []models.Condition
	for rows.Next() {
		var cond models.Condition
		var field, operator string
		var caseSensitive int64
		err := rows.Scan(&cond.ID, &cond.GroupID, &field, &operator,
			&cond.MatchValue, &caseSensitive, &cond.Order)
		if err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		cond.Field = models.FieldType(field)
		cond.Operator = models.Operator(operator)
		cond.CaseSensitive = caseSensitive != 0
		conditions = append(conditions, cond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conditions: %w", err)
	}
	return conditions, nil
}

func (d *DB) loadActions(ctx context.Context, ruleID int64) ([]models.Action, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, rule_id, action_type, action_config, action_order
		FROM rule_actions
		WHERE rule_id = ?
		ORDER BY action_order ASC, id ASC`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []models.Action
	for rows.Next() {
		var action models.Action
		var actionType string
		var config sql.NullString
		err := rows.Scan(&action.ID, &action.RuleID, &actionType, &config, &action.Order)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		action.Type = models.ActionType(actionType)
		if config.Valid {
			action.Config = json.RawMessage(config.String)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate actions: %w", err)
	}
	return actions, nil
}
