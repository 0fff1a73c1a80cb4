package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"optimizer-backend/internal/optimizations"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/workerproc"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	_ = ctx
	_ = params
	_ = optFns
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	_ = ctx
	_ = optFns
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeSession struct {
	startErr error
	body     string
}

func (f fakeSession) Start(ctx context.Context, req optimizations.StartRequest) (io.ReadCloser, string, error) {
	_ = ctx
	_ = req
	if f.startErr != nil {
		return nil, "", f.startErr
	}
	return io.NopCloser(strings.NewReader(f.body)), "session-1", nil
}

func (f fakeSession) Continue(ctx context.Context, req optimizations.ContinueRequest) (io.ReadCloser, string, error) {
	_ = ctx
	_ = req
	return nil, "", errors.New("unexpected continue")
}

func testRunner(session optimizations.SessionAPI) *workerproc.Runner {
	return &workerproc.Runner{
		BaseURL:    "http://optimizer.test",
		NewSession: func(token string) optimizations.SessionAPI { return session },
	}
}

func requestBody(t *testing.T) string {
	t.Helper()
	body, err := queue.EncodeMessage(queue.Message{
		Kind:       queue.KindOptimizationRequest,
		DocumentID: "doc-1",
		UserID:     "user-1",
		TargetRole: "Backend Engineer",
		RequestID:  "req-1",
	})
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return string(body)
}

const completeFrame = "data: {\"type\":\"complete\",\"optimization\":{\"ats_text\":\"done\",\"styled_html\":\"<p>done</p>\",\"markdown\":\"done\",\"rounds_completed\":1}}\n"

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	client := &fakeSQS{}
	runner := testRunner(fakeSession{body: completeFrame})
	msg := sqstypes.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(requestBody(t)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}

	handleMessage(context.Background(), client, "queue", runner, msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
}

func TestWorkerDoesNotDeleteOnFailure(t *testing.T) {
	client := &fakeSQS{}
	runner := testRunner(fakeSession{startErr: errors.New("boom")})
	msg := sqstypes.Message{
		MessageId:     aws.String("m2"),
		ReceiptHandle: aws.String("r2"),
		Body:          aws.String(requestBody(t)),
	}

	handleMessage(context.Background(), client, "queue", runner, msg)

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete, got %d", len(client.deleted))
	}
}

func TestWorkerDeletesOnInvalidJSON(t *testing.T) {
	client := &fakeSQS{}
	runner := testRunner(fakeSession{})
	msg := sqstypes.Message{
		MessageId:     aws.String("m3"),
		ReceiptHandle: aws.String("r3"),
		Body:          aws.String("{bad-json"),
	}

	handleMessage(context.Background(), client, "queue", runner, msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
}

func TestWorkerSkipsCompletedAnnouncements(t *testing.T) {
	client := &fakeSQS{}
	runner := testRunner(fakeSession{})
	body, err := queue.EncodeMessage(queue.Message{
		Kind:      queue.KindOptimizationCompleted,
		SessionID: "session-9",
		UserID:    "user-1",
		RequestID: "req-9",
	})
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	msg := sqstypes.Message{
		MessageId:     aws.String("m4"),
		ReceiptHandle: aws.String("r4"),
		Body:          aws.String(string(body)),
	}

	handleMessage(context.Background(), client, "queue", runner, msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
}
