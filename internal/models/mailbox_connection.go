package models

import (
	"time"
)

// MailboxConnection holds the IMAP/SMTP credentials used by connectivity checks.
type MailboxConnection struct {
	MailboxID string `gorm:"column:mailbox_id;type:varchar(64);primaryKey" json:"mailboxId"`
	// IMAP Configuration
	ImapServer   string `gorm:"column:imap_server;type:varchar(255)" json:"imapServer"`
	ImapPort     int    `gorm:"column:imap_port" json:"imapPort"`
	ImapUsername string `gorm:"column:imap_username;type:varchar(255)" json:"imapUsername"`
	ImapPassword string `gorm:"column:imap_password;type:varchar(255)" json:"-"`
	ImapTLS      bool   `gorm:"column:imap_tls;not null;default:true" json:"imapTls"`
	// SMTP Configuration
	SmtpServer   string `gorm:"column:smtp_server;type:varchar(255)" json:"smtpServer"`
	SmtpPort     int    `gorm:"column:smtp_port" json:"smtpPort"`
	SmtpUsername string `gorm:"column:smtp_username;type:varchar(255)" json:"smtpUsername"`
	SmtpPassword string `gorm:"column:smtp_password;type:varchar(255)" json:"-"`
	SmtpTLS      bool   `gorm:"column:smtp_tls;not null;default:true" json:"smtpTls"`
	// Status Information
	LastCheckedAt *time.Time `gorm:"column:last_checked_at;type:timestamp" json:"lastCheckedAt,omitempty"`
	LastError     string     `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (MailboxConnection) TableName() string {
	return "mailbox_connections"
}

func (c *MailboxConnection) HasImap() bool {
	return c.ImapServer != "" && c.ImapUsername != ""
}

func (c *MailboxConnection) HasSmtp() bool {
	return c.SmtpServer != "" && c.SmtpUsername != ""
}
