package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"optimizer-backend/internal/shared/config"
	"optimizer-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	runner   *workerproc.Runner
)

func initRunner() {
	cfg := config.Load()
	runner = &workerproc.Runner{
		BaseURL:     cfg.OptimizerAPIURL,
		IdleTimeout: time.Duration(cfg.StreamIdleTimeoutSeconds) * time.Second,
	}
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initRunner)

	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		if err := workerproc.HandleMessage(ctx, runner, record.Body); err != nil {
			if skippable(err) {
				continue
			}
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

// skippable reports whether a record should be acknowledged without
// processing. Malformed payloads and announcement kinds never succeed on
// retry, so returning them as failures would only loop them back.
func skippable(err error) bool {
	var empty workerproc.ErrEmptyBody
	var decode workerproc.ErrDecode
	var kind workerproc.ErrUnsupportedKind
	var target workerproc.ErrMissingTarget
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &kind) || errors.As(err, &target)
}

func main() {
	lambda.Start(handler)
}
