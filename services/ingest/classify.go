package ingest

import (
	"regexp"
	"strings"

	"github.com/superkabe/healthstack/internal/enum"
)

var (
	enhancedStatusPattern = regexp.MustCompile(`\b([245])\.(\d{1,3})\.(\d{1,3})\b`)
	smtpReplyPattern      = regexp.MustCompile(`\b([45])\d\d\b`)
)

var softBounceHints = []string{
	"mailbox full", "quota", "try again", "temporar", "greylist", "server busy",
	"rate limit", "deferred", "insufficient storage", "too many connections",
}

var hardBounceHints = []string{
	"user unknown", "unknown user", "does not exist", "no such user", "invalid recipient",
	"recipient rejected", "address rejected", "domain not found", "no mx", "nxdomain",
	"mailbox unavailable", "account disabled",
}

// Classification is the canonical bounce verdict for one event.
type Classification struct {
	Type      enum.DeliveryEventType
	Label     string
	Ambiguous bool
}

// ClassifyBounce resolves an unclassified bounce from its status code and
// diagnostic text. Anything it cannot place is a hard bounce flagged ambiguous.
func ClassifyBounce(code, message string) Classification {
	label := strings.TrimSpace(strings.TrimSpace(code) + " " + strings.TrimSpace(message))

	if m := enhancedStatusPattern.FindStringSubmatch(code + " " + message); m != nil {
		switch m[1] {
		case "5":
			return Classification{Type: enum.EventHardBounce, Label: label}
		case "4":
			return Classification{Type: enum.EventSoftBounce, Label: label}
		}
		return Classification{Type: enum.EventHardBounce, Label: label, Ambiguous: true}
	}
	if m := smtpReplyPattern.FindStringSubmatch(code + " " + message); m != nil {
		if m[1] == "5" {
			return Classification{Type: enum.EventHardBounce, Label: label}
		}
		return Classification{Type: enum.EventSoftBounce, Label: label}
	}

	lower := strings.ToLower(message)
	for _, hint := range softBounceHints {
		if strings.Contains(lower, hint) {
			return Classification{Type: enum.EventSoftBounce, Label: label}
		}
	}
	for _, hint := range hardBounceHints {
		if strings.Contains(lower, hint) {
			return Classification{Type: enum.EventHardBounce, Label: label}
		}
	}
	return Classification{Type: enum.EventHardBounce, Label: label, Ambiguous: true}
}

// Classify settles the canonical type of a mapped event. DSN details, when
// present, take precedence over the provider's own code and message.
func Classify(ev *CanonicalEvent, dsn *DSNReport) Classification {
	code, message := ev.BounceCode, ev.BounceMessage
	if dsn != nil {
		if dsn.Status != "" {
			code = dsn.Status
		}
		if dsn.Diagnostic != "" {
			message = dsn.Diagnostic
		}
	}

	switch ev.Type {
	case eventBounce:
		return ClassifyBounce(code, message)
	case enum.EventHardBounce, enum.EventSoftBounce, enum.EventDeliveryFailure, enum.EventComplaint:
		return Classification{Type: ev.Type, Label: strings.TrimSpace(code + " " + message)}
	}
	return Classification{Type: ev.Type}
}
