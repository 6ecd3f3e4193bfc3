package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/sembalun/guard/internal/models"
)

// SESClient is the subset of the SES API used for alert delivery
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertNotifier e-mails security alerts to an operator address via AWS SES
type SESAlertNotifier struct {
	client      SESClient
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewSESAlertNotifier loads the default AWS credential chain for region
func NewSESAlertNotifier(ctx context.Context, region, fromAddress, toAddress string, logger *slog.Logger) (*SESAlertNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESAlertNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, toAddress, logger), nil
}

func NewSESAlertNotifierWithClient(client SESClient, fromAddress, toAddress string, logger *slog.Logger) *SESAlertNotifier {
	return &SESAlertNotifier{
		client:      client,
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}
}

// Notify sends one alert e-mail describing entry
func (n *SESAlertNotifier) Notify(ctx context.Context, entry models.AuditLogEntry) error {
	subject := fmt.Sprintf("[Sembalun %s] %s", strings.ToUpper(entry.Severity.String()), entry.Event)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{n.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(alertBody(entry)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("security alert emailed",
		slog.String("audit_id", entry.ID),
		slog.String("message_id", messageID))

	return nil
}

func alertBody(entry models.AuditLogEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Security event: %s\n", entry.Event)
	fmt.Fprintf(&b, "Severity:       %s\n", entry.Severity)
	fmt.Fprintf(&b, "Time (UTC):     %s\n", entry.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Audit ID:       %s\n", entry.ID)
	if entry.UserID != "" {
		fmt.Fprintf(&b, "User:           %s\n", entry.UserID)
	}
	if entry.SessionID != "" {
		fmt.Fprintf(&b, "Session:        %s\n", entry.SessionID)
	}
	if entry.IPAddress != "" {
		fmt.Fprintf(&b, "IP address:     %s\n", entry.IPAddress)
	}

	if len(entry.Details) > 0 {
		keys := make([]string, 0, len(entry.Details))
		for k := range entry.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, entry.Details[k])
		}
	}

	b.WriteString("\nThis is an automated message from sembalun-guard.\n")
	return b.String()
}
