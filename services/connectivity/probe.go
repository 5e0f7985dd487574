package connectivity

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/pkg/errors"

	"github.com/superkabe/healthstack/internal/models"
)

// Prober verifies that stored credentials still authenticate.
type Prober interface {
	ProbeIMAP(ctx context.Context, conn *models.MailboxConnection) error
	ProbeSMTP(ctx context.Context, conn *models.MailboxConnection) error
}

type authProber struct {
	timeout time.Duration
}

func NewProber(timeout time.Duration) Prober {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &authProber{timeout: timeout}
}

func (p *authProber) ProbeIMAP(ctx context.Context, conn *models.MailboxConnection) error {
	addr := fmt.Sprintf("%s:%d", conn.ImapServer, conn.ImapPort)
	dialer := &net.Dialer{Timeout: p.timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var (
		c   *client.Client
		err error
	)
	if conn.ImapTLS {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: conn.ImapServer})
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return errors.Wrapf(err, "imap connect %s", addr)
	}
	defer func() { _ = c.Logout() }()

	c.Timeout = p.timeout
	if err := c.Login(conn.ImapUsername, conn.ImapPassword); err != nil {
		return errors.Wrapf(err, "imap login as %s", conn.ImapUsername)
	}
	return nil
}

func (p *authProber) ProbeSMTP(ctx context.Context, conn *models.MailboxConnection) error {
	addr := fmt.Sprintf("%s:%d", conn.SmtpServer, conn.SmtpPort)
	dialer := &net.Dialer{Timeout: p.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "smtp connect %s", addr)
	}
	_ = raw.SetDeadline(time.Now().Add(p.timeout))

	tlsConfig := &tls.Config{ServerName: conn.SmtpServer}
	var c *smtp.Client
	switch {
	case conn.SmtpTLS && conn.SmtpPort == 465:
		c = smtp.NewClient(tls.Client(raw, tlsConfig))
	case conn.SmtpTLS:
		c, err = smtp.NewClientStartTLS(raw, tlsConfig)
		if err != nil {
			raw.Close()
			return errors.Wrapf(err, "smtp starttls %s", addr)
		}
	default:
		c = smtp.NewClient(raw)
	}
	defer c.Close()

	if err := c.Hello("localhost"); err != nil {
		return errors.Wrap(err, "smtp hello")
	}
	auth := sasl.NewPlainClient("", conn.SmtpUsername, conn.SmtpPassword)
	if err := c.Auth(auth); err != nil {
		return errors.Wrapf(err, "smtp auth as %s", conn.SmtpUsername)
	}
	return c.Quit()
}
