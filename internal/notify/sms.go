package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/sakif/accounts/internal/config"
)

// Publisher is the part of *sns.Client the sender uses.
type Publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// loadDefaultAWSConfig is a seam for tests.
var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// SMSSender publishes codes as transactional SMS through SNS.
type SMSSender struct {
	client      Publisher
	senderID    string
	countryCode string
}

// NewSNSSender builds an SNS client for cfg.Region. Static credentials are
// used when both keys are set; otherwise the default AWS chain applies
// (environment, shared config, instance role).
func NewSNSSender(ctx context.Context, cfg config.AWSConfig) (*SMSSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify/sms: loading AWS config: %w", err)
	}
	return NewSMSSender(sns.NewFromConfig(awsCfg), cfg.SNSSenderID, cfg.DefaultCountryCode), nil
}

func NewSMSSender(client Publisher, senderID, countryCode string) *SMSSender {
	return &SMSSender{client: client, senderID: senderID, countryCode: countryCode}
}

func (s *SMSSender) SendOTP(ctx context.Context, msg OTPMessage) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	to := E164(msg.To, s.countryCode)
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(to),
		Message:           aws.String(body(msg)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("notify/sms: publishing to %s: %w", Mask(to), err)
	}
	return nil
}

// E164 prefixes a national number with countryCode. Numbers that already
// start with "+" are returned unchanged.
func E164(number, countryCode string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "+") {
		return number
	}
	return countryCode + number
}
