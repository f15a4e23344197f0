package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/DeafMist/trend-affiliate-report/internal/config"
)

// SpreadsheetType is the MIME type of the attached dataset.
const SpreadsheetType mail.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const dialTimeout = 30 * time.Second

// Report is everything one notification carries.
type Report struct {
	Subject        string
	PlainBody      string
	HTMLBody       string
	MainAttachment string
	Extras         []string
}

// Mailer delivers reports over SMTP.
type Mailer struct {
	cfg config.Email
	log *slog.Logger
}

// New returns a mailer for a fully populated email config.
func New(cfg config.Email, log *slog.Logger) *Mailer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mailer{cfg: cfg, log: log}
}

// Send builds the message and delivers it. Transport and auth errors are returned as is.
func (m *Mailer) Send(ctx context.Context, r Report) error {
	msg, err := BuildMessage(m.cfg, r, time.Now())
	if err != nil {
		return err
	}

	client, err := mail.NewClient(m.cfg.Host, clientOptions(m.cfg)...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}

	m.log.Info("email sent",
		slog.Any("to", m.cfg.To),
		slog.String("attachment", filepath.Base(r.MainAttachment)),
		slog.Int("extra_attachments", len(r.Extras)),
	)
	return nil
}

// BuildMessage composes the multipart message: a plain text body with an HTML
// alternative, the dataset, and each extra file typed by extension.
func BuildMessage(cfg config.Email, r Report, now time.Time) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(cfg.To...); err != nil {
		return nil, fmt.Errorf("to addresses: %w", err)
	}
	msg.Subject(r.Subject)
	msg.SetDateWithValue(now)
	msg.SetMessageIDWithValue(uuid.NewString() + "@" + messageIDHost(cfg.From))

	msg.SetBodyString(mail.TypeTextPlain, r.PlainBody)
	if r.HTMLBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, r.HTMLBody)
	}

	if err := attach(msg, r.MainAttachment, SpreadsheetType); err != nil {
		return nil, err
	}
	for _, p := range r.Extras {
		if err := attach(msg, p, ContentTypeFor(p)); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// ContentTypeFor maps an attachment file name to its MIME type.
func ContentTypeFor(path string) mail.ContentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return mail.TypeTextPlain
	case ".htm", ".html":
		return mail.TypeTextHTML
	default:
		return mail.TypeAppOctetStream
	}
}

func attach(msg *mail.Msg, path string, ct mail.ContentType) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	if err := msg.AttachReader(filepath.Base(path), bytes.NewReader(data), mail.WithFileContentType(ct)); err != nil {
		return fmt.Errorf("attach %s: %w", filepath.Base(path), err)
	}
	return nil
}

// clientOptions upgrades to STARTTLS on the submission ports, uses implicit
// TLS on 465 and authenticates only when a user is configured. Any other port
// is a plain connection, so PLAIN auth there must be allowed without TLS.
func clientOptions(cfg config.Email) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(dialTimeout),
	}

	auth := mail.SMTPAuthPlain
	switch cfg.Port {
	case 587, 25:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case 465:
		opts = append(opts, mail.WithSSL())
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
		auth = mail.SMTPAuthPlainNoEnc
	}

	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(auth),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}
	return opts
}

func messageIDHost(from string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return strings.TrimRight(from[i+1:], ">")
	}
	return "localhost"
}
