package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type SESConfig struct {
	Region    string
	FromEmail string
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESProvider struct {
	client sesAPI
	from   string
	log    *zap.Logger
}

func NewSES(ctx context.Context, cfg SESConfig, log *zap.Logger) (*SESProvider, error) {
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("ses: from email is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return newSESWithClient(ses.NewFromConfig(awsCfg), cfg.FromEmail, log), nil
}

func newSESWithClient(client sesAPI, from string, log *zap.Logger) *SESProvider {
	return &SESProvider{client: client, from: strings.TrimSpace(from), log: log.Named("email.ses")}
}

func (p *SESProvider) Name() string { return "ses" }

func (p *SESProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return SendResult{}, err
	}

	source := p.from
	if name := strings.TrimSpace(msg.FromName); name != "" {
		source = (&mail.Address{Name: name, Address: p.from}).String()
	}

	input := &ses.SendEmailInput{
		Source: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: recipients(msg.To),
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.HTML),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}
	if replyTo := strings.TrimSpace(msg.ReplyTo); replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}

	result, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return SendResult{}, fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	p.log.Debug("email sent via SES", zap.String("message_id", messageID))
	return SendResult{MessageID: messageID, Provider: p.Name()}, nil
}
