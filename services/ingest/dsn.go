package ingest

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"
)

// DSNReport is the per-recipient part of an RFC 3464 delivery status notification.
type DSNReport struct {
	Recipient  string
	Action     string
	Status     string
	Diagnostic string
}

// ParseDSN reads a raw bounce message and extracts the delivery-status fields.
// Messages without a message/delivery-status part fall back to the first
// enhanced status code found in the text body.
func ParseDSN(raw string) (*DSNReport, error) {
	envelope, err := enmime.ReadEnvelope(strings.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse bounce message")
	}

	var report *DSNReport
	walkParts(envelope.Root, func(p *enmime.Part) bool {
		if strings.EqualFold(p.ContentType, "message/delivery-status") {
			report = parseDeliveryStatus(p.Content)
			return false
		}
		return true
	})
	if report != nil && report.Status != "" {
		return report, nil
	}

	if m := enhancedStatusPattern.FindString(envelope.Text); m != "" {
		return &DSNReport{Status: m, Diagnostic: firstLineContaining(envelope.Text, m)}, nil
	}
	if report != nil {
		return report, nil
	}
	return nil, errors.New("no delivery status found in bounce message")
}

func walkParts(p *enmime.Part, visit func(*enmime.Part) bool) bool {
	for ; p != nil; p = p.NextSibling {
		if !visit(p) {
			return false
		}
		if !walkParts(p.FirstChild, visit) {
			return false
		}
	}
	return true
}

func parseDeliveryStatus(content []byte) *DSNReport {
	report := &DSNReport{}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	var last *string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if last != nil {
				*last += " " + strings.TrimSpace(line)
			}
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			last = nil
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "final-recipient", "original-recipient":
			if report.Recipient == "" {
				report.Recipient = stripAddressType(value)
			}
			last = nil
		case "action":
			report.Action = strings.ToLower(value)
			last = &report.Action
		case "status":
			report.Status = value
			last = &report.Status
		case "diagnostic-code":
			report.Diagnostic = stripAddressType(value)
			last = &report.Diagnostic
		default:
			last = nil
		}
	}
	return report
}

// stripAddressType drops the "rfc822;" / "smtp;" type prefix of DSN fields.
func stripAddressType(value string) string {
	if _, rest, ok := strings.Cut(value, ";"); ok {
		return strings.TrimSpace(rest)
	}
	return value
}

func firstLineContaining(text, needle string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, needle) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
