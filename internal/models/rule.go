package models

import "encoding/json"

// FieldType identifies which part of the canonical record a condition
// inspects.
type FieldType string

const (
	FieldSender     FieldType = "sender"
	FieldSubject    FieldType = "subject"
	FieldBody       FieldType = "body"
	FieldHeader     FieldType = "header"
	FieldAttachment FieldType = "attachment"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpRegex       Operator = "regex"
	OpNotRegex    Operator = "not_regex"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
)

// GroupLogic combines condition results within a group, and group results
// within a rule.
type GroupLogic string

const (
	LogicAnd GroupLogic = "AND"
	LogicOr  GroupLogic = "OR"
)

// ActionType tags a rule action variant.
type ActionType string

const (
	ActionSkip     ActionType = "skip"
	ActionSetField ActionType = "set_field"
)

// Condition is one comparison inside a condition group.
type Condition struct {
	ID            int64
	GroupID       int64
	Field         FieldType
	Operator      Operator
	MatchValue    string
	CaseSensitive bool
	Order         int
}

// ConditionGroup is an ordered set of conditions combined by Logic.
// An empty group matches.
type ConditionGroup struct {
	ID         int64
	RuleID     int64
	Logic      GroupLogic
	Order      int
	Conditions []Condition
}

// Action is one effect a matching rule produces. Config is the raw JSON
// blob from the rule_actions row; the rule engine decodes it into the
// typed configuration for the action's variant.
type Action struct {
	ID     int64
	RuleID int64
	Type   ActionType
	Config json.RawMessage
	Order  int
}

// Rule is the owned composite tree: header plus ordered groups and
// actions, with no back-references. A rule with no groups always matches.
type Rule struct {
	ID          int64
	Name        string
	Description string
	IsActive    bool
	Priority    int
	StopOnMatch bool
	GroupLogic  GroupLogic
	Groups      []ConditionGroup
	Actions     []Action
}
