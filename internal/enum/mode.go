package enum

import "strings"

type SystemMode string

const (
	ModeObserve SystemMode = "OBSERVE"
	ModeSuggest SystemMode = "SUGGEST"
	ModeEnforce SystemMode = "ENFORCE"
)

func ParseSystemMode(s string) SystemMode {
	switch SystemMode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeObserve:
		return ModeObserve
	case ModeSuggest:
		return ModeSuggest
	default:
		return ModeEnforce
	}
}

func (m SystemMode) Enforcing() bool {
	return m == ModeEnforce
}

type AuditAction string

const (
	AuditTransition      AuditAction = "transition"
	AuditWouldTransition AuditAction = "would_transition"
	AuditCommand         AuditAction = "command"
	AuditWouldCommand    AuditAction = "would_command"
	AuditAlert           AuditAction = "alert"
	AuditSuggestion      AuditAction = "suggestion"
	AuditOperator        AuditAction = "operator"
)
