package connectivity

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	imapserver "github.com/emersion/go-imap/server"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	memrepo "github.com/superkabe/healthstack/internal/repository/memory"
)

func testLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error"})
	l.InitLogger()
	return l
}

type smtpBackend struct{}

func (smtpBackend) NewSession(*smtp.Conn) (smtp.Session, error) { return &smtpSession{}, nil }

type smtpSession struct{}

func (s *smtpSession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (s *smtpSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != "ops@acme.io" || password != "hunter2" {
			return errors.New("invalid credentials")
		}
		return nil
	}), nil
}

func (s *smtpSession) Mail(string, *smtp.MailOptions) error { return nil }
func (s *smtpSession) Rcpt(string, *smtp.RcptOptions) error { return nil }
func (s *smtpSession) Data(io.Reader) error                 { return nil }
func (s *smtpSession) Reset()                               {}
func (s *smtpSession) Logout() error                        { return nil }

func listen(t *testing.T) (net.Listener, string, int) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return l, host, port
}

func TestProber_SMTPAuth(t *testing.T) {
	l, host, port := listen(t)
	srv := smtp.NewServer(smtpBackend{})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	go func() { _ = srv.Serve(l) }()
	defer srv.Close()

	p := NewProber(5 * time.Second)
	conn := &models.MailboxConnection{MailboxID: "mbox_1", SmtpServer: host, SmtpPort: port, SmtpUsername: "ops@acme.io", SmtpPassword: "hunter2"}
	assert.NoError(t, p.ProbeSMTP(context.Background(), conn))

	conn.SmtpPassword = "wrong"
	err := p.ProbeSMTP(context.Background(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp auth")
}

func TestProber_IMAPLogin(t *testing.T) {
	l, host, port := listen(t)
	srv := imapserver.New(memory.New())
	srv.AllowInsecureAuth = true
	go func() { _ = srv.Serve(l) }()
	defer srv.Close()

	p := NewProber(5 * time.Second)
	conn := &models.MailboxConnection{MailboxID: "mbox_1", ImapServer: host, ImapPort: port, ImapUsername: "username", ImapPassword: "password"}
	assert.NoError(t, p.ProbeIMAP(context.Background(), conn))

	conn.ImapPassword = "nope"
	err := p.ProbeIMAP(context.Background(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap login")
}

func TestProber_ConnectionRefused(t *testing.T) {
	l, host, port := listen(t)
	require.NoError(t, l.Close())

	p := NewProber(time.Second)
	err := p.ProbeSMTP(context.Background(), &models.MailboxConnection{SmtpServer: host, SmtpPort: port, SmtpUsername: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp connect")
}

type fakeProber struct {
	mu     sync.Mutex
	broken map[string]bool
	calls  int
}

func (f *fakeProber) ProbeIMAP(_ context.Context, conn *models.MailboxConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.broken[conn.MailboxID] {
		return errors.New("imap login as user: authentication failed")
	}
	return nil
}

func (f *fakeProber) ProbeSMTP(_ context.Context, _ *models.MailboxConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func TestChecker_CheckAll(t *testing.T) {
	repos, _ := memrepo.NewRepositories()
	ctx := context.Background()
	for _, id := range []string{"mbox_1", "mbox_2"} {
		require.NoError(t, repos.MailboxConnectionRepository.Save(ctx, &models.MailboxConnection{
			MailboxID: id, ImapServer: "imap.acme.io", ImapPort: 993, ImapUsername: id,
			SmtpServer: "smtp.acme.io", SmtpPort: 587, SmtpUsername: id,
		}))
	}
	// nothing configured, skipped
	require.NoError(t, repos.MailboxConnectionRepository.Save(ctx, &models.MailboxConnection{MailboxID: "mbox_3"}))

	prober := &fakeProber{broken: map[string]bool{"mbox_2": true}}
	c := NewChecker(testLogger(), repos.MailboxConnectionRepository, prober, 2)

	results, err := c.CheckAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 4, prober.calls)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.MailboxID] = r
	}
	assert.True(t, byID["mbox_1"].OK)
	assert.False(t, byID["mbox_2"].OK)
	assert.Contains(t, byID["mbox_2"].Reason, "authentication failed")

	stored, err := repos.MailboxConnectionRepository.Get(ctx, "mbox_2")
	require.NoError(t, err)
	require.NotNil(t, stored.LastCheckedAt)
	assert.Contains(t, stored.LastError, "authentication failed")
}
