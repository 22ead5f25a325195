package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/borgsave/borgsave/internal/command"
	"github.com/borgsave/borgsave/internal/config"
	"github.com/borgsave/borgsave/internal/logging"
)

// EmailNotifier sends the run report by mail, either through a local
// sendmail binary or directly to an SMTP server with STARTTLS.
type EmailNotifier struct {
	cfg    *config.Config
	runner command.Runner
	logger *logging.Logger

	// dial is replaceable in tests
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewEmailNotifier returns an email channel for the given configuration.
func NewEmailNotifier(cfg *config.Config, runner command.Runner, logger *logging.Logger) *EmailNotifier {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	return &EmailNotifier{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
	}
}

// Name implements Notifier.
func (e *EmailNotifier) Name() string {
	return "email"
}

// IsEnabled implements Notifier.
func (e *EmailNotifier) IsEnabled() bool {
	return e.cfg.EmailEnabled && len(e.cfg.EmailRecipients) > 0
}

// Send implements Notifier. With EMAIL_ERROR_ONLY set, successful runs are
// not reported.
func (e *EmailNotifier) Send(ctx context.Context, data *NotificationData) error {
	if e.cfg.EmailErrorOnly && data.Status == StatusSuccess {
		e.logger.Skip("Email: run succeeded and EMAIL_ERROR_ONLY is set")
		return nil
	}

	subject := BuildSubject(data)
	body := BuildBody(data)

	switch e.cfg.EmailDeliveryMethod {
	case "sendmail":
		return e.sendViaSendmail(ctx, subject, body)
	case "smtp":
		return e.sendViaSMTP(ctx, subject, body)
	default:
		return fmt.Errorf("unknown email delivery method: %s", e.cfg.EmailDeliveryMethod)
	}
}

// BuildSubject renders the one-line subject for a run outcome.
func BuildSubject(data *NotificationData) string {
	host := data.Hostname
	switch data.Status {
	case StatusSuccess:
		return fmt.Sprintf("[borgsave] Backup succeeded on %s", host)
	case StatusAborted:
		return fmt.Sprintf("[borgsave] Backup ABORTED on %s - %s", host, data.AbortMessage)
	default:
		return fmt.Sprintf("[borgsave] Backup FAILED on %s - %s", host, data.FailureSummary)
	}
}

var stageTitle = cases.Title(language.English)

// BuildBody renders the plain-text report with the full run log appended.
func BuildBody(data *NotificationData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backup run %s on %s\n", data.Timestamp, data.Hostname)
	fmt.Fprintf(&b, "Started:  %s\n", data.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %s\n", data.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Result:   %s (exit code %d)\n", data.Status, data.ExitCode.Int())
	if data.DryRun {
		b.WriteString("Mode:     dry run\n")
	}
	b.WriteString("\n")

	if data.AbortMessage != "" {
		fmt.Fprintf(&b, "Aborted before any backup work: %s\n\n", data.AbortMessage)
	}

	if len(data.Pools) > 0 {
		fmt.Fprintf(&b, "ZFS pools:    %s\n", strings.Join(data.Pools, ", "))
	}
	if len(data.Directories) > 0 {
		fmt.Fprintf(&b, "Directories:  %s\n", strings.Join(data.Directories, ", "))
	}
	if len(data.Repositories) > 0 {
		fmt.Fprintf(&b, "Repositories: %s\n", strings.Join(data.Repositories, ", "))
	}
	fmt.Fprintf(&b, "Snapshots created: %d\n", data.SnapshotsCreated)
	fmt.Fprintf(&b, "Archives created:  %d\n", data.ArchivesCreated)

	if len(data.Failures) > 0 {
		fmt.Fprintf(&b, "\nFailures (%d):\n", len(data.Failures))
		for _, failure := range data.Failures {
			stage := stageTitle.String(strings.ToLower(failure.Stage.String()))
			if failure.Target != "" {
				fmt.Fprintf(&b, "  - %s [%s]: %s\n", stage, failure.Target, failure.Message)
			} else {
				fmt.Fprintf(&b, "  - %s: %s\n", stage, failure.Message)
			}
		}
	}

	if data.LogContent != "" {
		b.WriteString("\n--- Full run log ---\n")
		b.WriteString(data.LogContent)
		if !strings.HasSuffix(data.LogContent, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func hostnameOrLocal() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

func (e *EmailNotifier) fromHeader() string {
	from := e.cfg.EmailFrom
	if from == "" {
		from = "borgsave@" + hostnameOrLocal()
	}
	if e.cfg.EmailFromName != "" {
		return fmt.Sprintf("%s <%s>", e.cfg.EmailFromName, from)
	}
	return from
}

func (e *EmailNotifier) buildMessage(subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.fromHeader())
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.EmailRecipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

// sendViaSendmail pipes the message into the local MTA. The -t flag makes
// sendmail take the recipients from the To header.
func (e *EmailNotifier) sendViaSendmail(ctx context.Context, subject, body string) error {
	message := e.buildMessage(subject, body)

	result, err := e.runner.Run(ctx, command.Spec{
		Name:  "sendmail",
		Args:  []string{"-t"},
		Stdin: message,
	})
	if err != nil {
		return fmt.Errorf("sendmail: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("sendmail exited with code %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	e.logger.Info("Email sent via sendmail to %s", strings.Join(e.cfg.EmailRecipients, ", "))
	return nil
}

// sendViaSMTP talks to the configured SMTP server, upgrading the
// connection with STARTTLS before authenticating.
func (e *EmailNotifier) sendViaSMTP(ctx context.Context, subject, body string) error {
	addr := net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(e.cfg.SMTPPort))

	conn, err := e.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp connect %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if e.cfg.SMTPUseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if e.cfg.SMTPUsername != "" {
		auth := smtp.PlainAuth("", e.cfg.SMTPUsername, e.cfg.SMTPPassword, e.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	from := e.cfg.EmailFrom
	if from == "" {
		from = "borgsave@" + hostnameOrLocal()
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, recipient := range e.cfg.EmailRecipients {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := writer.Write([]byte(e.buildMessage(subject, body))); err != nil {
		writer.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}

	if err := client.Quit(); err != nil {
		e.logger.Debug("smtp quit: %v", err)
	}
	e.logger.Info("Email sent via %s to %s", addr, strings.Join(e.cfg.EmailRecipients, ", "))
	return nil
}
