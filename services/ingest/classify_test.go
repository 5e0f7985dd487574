package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/internal/enum"
)

func TestClassifyBounce(t *testing.T) {
	cases := []struct {
		code, message string
		want          enum.DeliveryEventType
		ambiguous     bool
	}{
		{"5.1.1", "user unknown", enum.EventHardBounce, false},
		{"", "550 5.1.10 recipient address rejected", enum.EventHardBounce, false},
		{"4.2.2", "mailbox full", enum.EventSoftBounce, false},
		{"", "421 try again later", enum.EventSoftBounce, false},
		{"550", "", enum.EventHardBounce, false},
		{"", "Mailbox quota exceeded", enum.EventSoftBounce, false},
		{"", "The email account that you tried to reach does not exist", enum.EventHardBounce, false},
		{"2.0.0", "ok", enum.EventHardBounce, true},
		{"", "something odd happened", enum.EventHardBounce, true},
		{"", "", enum.EventHardBounce, true},
	}
	for _, tc := range cases {
		got := ClassifyBounce(tc.code, tc.message)
		assert.Equal(t, tc.want, got.Type, "%s %s", tc.code, tc.message)
		assert.Equal(t, tc.ambiguous, got.Ambiguous, "%s %s", tc.code, tc.message)
	}
}

func TestClassify_ExplicitTypesKept(t *testing.T) {
	got := Classify(&CanonicalEvent{Type: enum.EventSoftBounce, BounceMessage: "550 user unknown"}, nil)
	assert.Equal(t, enum.EventSoftBounce, got.Type)
	assert.False(t, got.Ambiguous)

	got = Classify(&CanonicalEvent{Type: enum.EventOpened}, nil)
	assert.Equal(t, enum.EventOpened, got.Type)
	assert.Empty(t, got.Label)
}

const hardBounceDSN = "From: MAILER-DAEMON@mx.acme.io\r\n" +
	"To: ops@acme.io\r\n" +
	"Subject: Undelivered Mail Returned to Sender\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/report; report-type=delivery-status; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=us-ascii\r\n" +
	"\r\n" +
	"This is the mail system at host mx.acme.io.\r\n" +
	"<jane@example.com>: host mx.example.com said: 550 5.1.1 user unknown\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: message/delivery-status\r\n" +
	"\r\n" +
	"Reporting-MTA: dns; mx.acme.io\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; jane@example.com\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"Diagnostic-Code: smtp; 550 5.1.1 user unknown\r\n" +
	"\r\n" +
	"--BOUNDARY--\r\n"

func TestParseDSN(t *testing.T) {
	report, err := ParseDSN(hardBounceDSN)
	require.NoError(t, err)
	assert.Equal(t, "5.1.1", report.Status)
	assert.Contains(t, report.Diagnostic, "user unknown")

	got := Classify(&CanonicalEvent{Type: eventBounce, BounceMessage: "delivery failed"}, report)
	assert.Equal(t, enum.EventHardBounce, got.Type)
	assert.False(t, got.Ambiguous)
}

func TestParseDeliveryStatus_FoldedLines(t *testing.T) {
	report := parseDeliveryStatus([]byte("Final-Recipient: rfc822; bob@example.com\n" +
		"Action: delayed\n" +
		"Status: 4.2.2\n" +
		"Diagnostic-Code: smtp; 452 4.2.2 The email account that you tried to reach\n" +
		" is over quota\n"))
	assert.Equal(t, "bob@example.com", report.Recipient)
	assert.Equal(t, "delayed", report.Action)
	assert.Equal(t, "4.2.2", report.Status)
	assert.Equal(t, "452 4.2.2 The email account that you tried to reach is over quota", report.Diagnostic)
}

func TestParseDSN_NoStatus(t *testing.T) {
	_, err := ParseDSN("Subject: hello\r\n\r\njust a message\r\n")
	assert.Error(t, err)
}
