package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/yungbote/sitegen-backend/internal/observability"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

const BackendSQS = "sqs"

// sqsAPI is the subset of the SQS client the producer uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSProducer struct {
	client   sqsAPI
	queueURL string
	log      *logger.Logger
	metrics  *observability.Metrics
}

var _ Producer = (*SQSProducer)(nil)

// NewSQSClient loads the default AWS config. endpoint overrides the service
// URL for local emulators.
func NewSQSClient(ctx context.Context, region, endpoint string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewSQSProducer(client sqsAPI, queueURL string, log *logger.Logger, metrics *observability.Metrics) *SQSProducer {
	if log == nil {
		log = logger.Nop()
	}
	return &SQSProducer{
		client:   client,
		queueURL: queueURL,
		log:      log.With("service", "SQSProducer"),
		metrics:  metrics,
	}
}

func (p *SQSProducer) Enqueue(ctx context.Context, m Message) error {
	raw, err := m.Encode()
	if err != nil {
		return apperrors.Validationf("encode queue message: %v", err)
	}
	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(raw)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"operationId": {DataType: aws.String("String"), StringValue: aws.String(m.OperationID.String())},
		},
	})
	if err != nil {
		p.metrics.IncQueueMessage(BackendSQS, "enqueue_error")
		return apperrors.Transientf("sqs send message: %w", err)
	}
	p.metrics.IncQueueMessage(BackendSQS, "enqueued")
	p.log.Debug("message enqueued", "message_id", aws.ToString(out.MessageId), "operation_id", m.OperationID)
	return nil
}
