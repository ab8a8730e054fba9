package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAlerter delivers alerts by email through AWS SES.
type SESAlerter struct {
	sesClient   *ses.Client
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewSESAlerter creates an SES-backed alerter.
func NewSESAlerter(region, fromAddress, toAddress string, logger *slog.Logger) (*SESAlerter, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESAlerter{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}, nil
}

func (a *SESAlerter) Notify(ctx context.Context, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(a.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{a.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("[carelock security] " + subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := a.sesClient.SendEmail(ctx, input); err != nil {
		a.logger.ErrorContext(ctx, "failed to send security alert",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	a.logger.InfoContext(ctx, "security alert sent", slog.String("subject", subject))
	return nil
}
