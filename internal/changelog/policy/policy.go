// Package policy decides which entities and fields are eligible for auditing.
// Decisions are pure functions of static configuration: no state, no failure
// modes. Excluded fields are silently omitted from diffs - exclusion is not an
// error.
package policy

// GlobalDenylist names credential and secret-like fields that are excluded for
// every entity type, regardless of per-type configuration.
var GlobalDenylist = []string{
	"password",
	"passwordHash",
	"secret",
	"apiKey",
	"token",
	"sessionToken",
}

// TypeRule configures auditing for one entity type.
type TypeRule struct {
	// Skip excludes the entity type entirely.
	Skip bool
	// ExcludedFields are omitted from diffs in addition to the global denylist.
	ExcludedFields []string
}

// Policy answers entity and field eligibility questions.
type Policy struct {
	denied map[string]struct{}
	rules  map[string]typeRule
}

type typeRule struct {
	skip   bool
	denied map[string]struct{}
}

// New builds a Policy from per-type rules plus the global denylist.
func New(rules map[string]TypeRule) *Policy {
	p := &Policy{
		denied: make(map[string]struct{}, len(GlobalDenylist)),
		rules:  make(map[string]typeRule, len(rules)),
	}
	for _, field := range GlobalDenylist {
		p.denied[field] = struct{}{}
	}
	for entityType, rule := range rules {
		compiled := typeRule{skip: rule.Skip}
		if len(rule.ExcludedFields) > 0 {
			compiled.denied = make(map[string]struct{}, len(rule.ExcludedFields))
			for _, field := range rule.ExcludedFields {
				compiled.denied[field] = struct{}{}
			}
		}
		p.rules[entityType] = compiled
	}
	return p
}

// ShouldAuditEntity reports whether the entity type is audited at all.
func (p *Policy) ShouldAuditEntity(entityType string) bool {
	return !p.rules[entityType].skip
}

// ShouldAuditField reports whether a field of the entity type may appear in a
// diff. The global denylist wins over any per-type configuration.
func (p *Policy) ShouldAuditField(entityType, field string) bool {
	if !p.ShouldAuditEntity(entityType) {
		return false
	}
	if _, ok := p.denied[field]; ok {
		return false
	}
	if rule, ok := p.rules[entityType]; ok && rule.denied != nil {
		if _, excluded := rule.denied[field]; excluded {
			return false
		}
	}
	return true
}
