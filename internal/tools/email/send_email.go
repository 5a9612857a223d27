// Package email implements the send_email tool. Outbound mail is fenced by
// the tenant's domain trustlist and every send, real or simulated, lands in
// the email log.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
)

// Sender delivers one email. Implementations wrap an SMTP relay or a
// transactional mail API.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SendEmailTool sends a single email to one recipient.
type SendEmailTool struct {
	sender Sender
	outbox crm.EmailStore
	logger *slog.Logger
}

// NewSendEmailTool creates a send_email tool. A nil sender logs instead of
// delivering, which is useful in development.
func NewSendEmailTool(sender Sender, outbox crm.EmailStore, logger *slog.Logger) *SendEmailTool {
	return &SendEmailTool{sender: sender, outbox: outbox, logger: logger}
}

func (t *SendEmailTool) Name() string { return "send_email" }

func (t *SendEmailTool) Description() string {
	return "Send one email to a single recipient on behalf of the studio. " +
		"The recipient's domain must be on the studio's trustlist."
}

func (t *SendEmailTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient email address",
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Email subject line",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Plain-text email body",
			},
		},
		"required": []string{"to", "subject", "body"},
	}
}

func (t *SendEmailTool) Authority() string { return policy.AuthoritySendEmail }

func (t *SendEmailTool) RiskLevel() policy.RiskLevel { return policy.RiskHigh }

func (t *SendEmailTool) Validate(params map[string]any) error {
	for _, key := range []string{"to", "subject", "body"} {
		v, ok := params[key].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return fmt.Errorf("missing required parameter: %s", key)
		}
	}
	to, _ := params["to"].(string)
	if crm.EmailDomain(to) == "" {
		return fmt.Errorf("to must be a valid email address")
	}
	return nil
}

func (t *SendEmailTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, params map[string]any) (any, error) {
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	body, _ := params["body"].(string)

	domain := crm.EmailDomain(to)
	if !ectx.Policy.EmailDomainTrusted(domain) {
		return nil, fmt.Errorf("permission denied: recipient domain %q is not on the studio trustlist", domain)
	}

	record := &crm.EmailRecord{
		TenantID: ectx.TenantID,
		To:       to,
		Subject:  subject,
		Body:     body,
		Status:   crm.EmailStatusSent,
	}

	if ectx.Simulate {
		record.Status = crm.EmailStatusSimulated
		if t.outbox != nil {
			if err := t.outbox.RecordEmail(ctx, record); err != nil {
				t.logger.WarnContext(ctx, "outbox write failed", slog.String("error", err.Error()))
			}
		}
		return map[string]any{
			"simulated": true,
			"to":        to,
			"subject":   subject,
		}, nil
	}

	if t.sender != nil {
		if err := t.sender.Send(ctx, to, subject, body); err != nil {
			return nil, fmt.Errorf("sending email: %w", err)
		}
	} else {
		t.logger.InfoContext(ctx, "no sender configured, email logged only",
			slog.String("to", to),
			slog.String("subject", subject),
		)
	}

	if t.outbox != nil {
		if err := t.outbox.RecordEmail(ctx, record); err != nil {
			t.logger.WarnContext(ctx, "outbox write failed", slog.String("error", err.Error()))
		}
	}

	t.logger.InfoContext(ctx, "email sent",
		slog.String("tenant_id", ectx.TenantID),
		slog.String("domain", domain),
	)
	return map[string]any{
		"to":      to,
		"subject": subject,
		"status":  record.Status,
	}, nil
}
