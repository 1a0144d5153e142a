package queue

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"github.com/yungbote/sitegen-backend/internal/observability"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

// SQSHandler adapts h to a Lambda SQS trigger with partial batch responses:
// only failed records are reported back for redelivery.
func SQSHandler(h Handler, log *logger.Logger, metrics *observability.Metrics) func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "LambdaSQSHandler")
	return func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		deliveries := make([]Delivery, 0, len(ev.Records))
		for _, r := range ev.Records {
			deliveries = append(deliveries, Delivery{ID: r.MessageId, Body: []byte(r.Body)})
		}
		failed := ProcessBatch(ctx, deliveries, h, func(d Delivery, err error) {
			metrics.IncQueueMessage(BackendSQS, "dropped")
			log.Error("dropping malformed message", "message_id", d.ID, "error", err)
		})

		var resp events.SQSEventResponse
		for _, id := range failed {
			metrics.IncQueueMessage(BackendSQS, "failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
		}
		log.Info("sqs batch handled", "records", len(deliveries), "failed", len(failed))
		return resp, nil
	}
}
