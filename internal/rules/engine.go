// Package rules evaluates the stored routing rules against a canonical
// record and produces an effect set.
package rules

import (
	"time"

	"github.com/sirupsen/logrus"

	"mailroom/internal/models"
)

// Effect is the merged outcome of one engine run. ShouldSkip is an OR
// across all executed skip actions; FieldModifications is last-write-wins
// in rule order.
type Effect struct {
	ShouldSkip         bool
	SkipReason         string
	FieldModifications map[string]interface{}
	MatchedRules       []string
	Errors             []string
}

// Engine applies rules in priority order.
type Engine struct {
	log *logrus.Entry
}

// New returns an engine.
func New(log *logrus.Entry) *Engine {
	return &Engine{log: log}
}

// slowRuleThreshold is the per-rule evaluation time above which a
// warning is emitted.
const slowRuleThreshold = time.Second

// Apply evaluates the given rules, already sorted by priority descending
// then id ascending, against the canonical record. Matching rules run
// their actions in order; iteration stops after a stop_on_match rule or
// once the cumulative effect says skip.
func (e *Engine) Apply(rls []*models.Rule, email *models.ParsedEmail) *Effect {
	effect := &Effect{FieldModifications: map[string]interface{}{}}

	var slowest time.Duration
	var slowestRule string

	for _, rule := range rls {
		start := time.Now()
		matched := e.ruleMatches(rule, email)
		elapsed := time.Since(start)

		if elapsed > slowest {
			slowest = elapsed
			slowestRule = rule.Name
		}
		if elapsed > slowRuleThreshold {
			e.log.WithFields(logrus.Fields{
				"rule":    rule.Name,
				"elapsed": elapsed,
			}).Warn("slow rule evaluation")
		}

		if !matched {
			continue
		}

		effect.MatchedRules = append(effect.MatchedRules, rule.Name)
		for _, action := range rule.Actions {
			e.applyAction(rule, action, email, effect)
		}

		if rule.StopOnMatch || effect.ShouldSkip {
			break
		}
	}

	if slowestRule != "" {
		e.log.WithFields(logrus.Fields{
			"rule":    slowestRule,
			"elapsed": slowest,
		}).Debug("slowest rule")
	}
	return effect
}

// ruleMatches combines group results by the rule's global logic. A rule
// with no groups matches. Both levels short-circuit.
func (e *Engine) ruleMatches(rule *models.Rule, email *models.ParsedEmail) bool {
	if len(rule.Groups) == 0 {
		return true
	}

	or := rule.GroupLogic == models.LogicOr
	for _, group := range rule.Groups {
		matched := e.groupMatches(rule, &group, email)
		if or && matched {
			return true
		}
		if !or && !matched {
			return false
		}
	}
	return !or
}

// groupMatches combines condition results by the group's logic. An empty
// group matches. A condition that fails to evaluate counts as false.
func (e *Engine) groupMatches(rule *models.Rule, group *models.ConditionGroup, email *models.ParsedEmail) bool {
	or := group.Logic == models.LogicOr
	for _, cond := range group.Conditions {
		matched := e.conditionMatches(rule, cond, email)
		if or && matched {
			return true
		}
		if !or && !matched {
			return false
		}
	}
	return !or || len(group.Conditions) == 0
}

func (e *Engine) conditionMatches(rule *models.Rule, cond models.Condition, email *models.ParsedEmail) bool {
	extract, ok := extractors[cond.Field]
	if !ok {
		e.log.WithFields(logrus.Fields{
			"rule":  rule.Name,
			"field": cond.Field,
		}).Warn("unknown condition field")
		return false
	}

	matched, err := evalCondition(cond.Operator, extract(email), cond.MatchValue, cond.CaseSensitive)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"rule":     rule.Name,
			"operator": cond.Operator,
		}).Warn("condition evaluation failed")
	}
	return matched
}
