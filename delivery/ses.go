package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/charmbracelet/log"
)

// SESAPI is the subset of the SES client used for raw sends.
type SESAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESSender delivers rendered MIME messages through Amazon SES.
type SESSender struct {
	client SESAPI
	logger *log.Logger
}

// NewSESSender wraps an SES client.
func NewSESSender(client SESAPI) *SESSender {
	return &SESSender{client: client, logger: log.Default()}
}

// LoadSESSender builds an SES client from the default AWS credential chain.
// An empty region defers to the environment and shared config.
func LoadSESSender(ctx context.Context, region string) (*SESSender, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESSender(ses.NewFromConfig(cfg)), nil
}

// Send submits msg unchanged as the raw message body.
func (s *SESSender) Send(ctx context.Context, from, to string, msg []byte) error {
	input := &ses.SendRawEmailInput{
		RawMessage:   &types.RawMessage{Data: msg},
		Destinations: []string{to},
	}
	if from != "" {
		input.Source = aws.String(from)
	}

	out, err := s.client.SendRawEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send raw email: %w", err)
	}
	s.logger.Debug("SES accepted message", "to", to, "message_id", aws.ToString(out.MessageId))
	return nil
}
