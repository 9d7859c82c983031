package grpcclient

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/hijaiyah-api/internal/imageprocessor"
	"github.com/example/hijaiyah-api/internal/logging"
)

type stubInvoker struct {
	method string
	sent   []byte
	reply  *structpb.ListValue
	err    error
}

func (s *stubInvoker) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	s.method = method
	s.sent = args.(*wrapperspb.BytesValue).GetValue()
	if s.err != nil {
		return s.err
	}
	proto.Merge(reply.(*structpb.ListValue), s.reply)
	return nil
}

func TestRemoteModelPredict(t *testing.T) {
	reply, err := structpb.NewList([]any{0.1, 0.9})
	if err != nil {
		t.Fatalf("build reply: %v", err)
	}
	inv := &stubInvoker{reply: reply}
	model := newRemoteModel(inv, zap.NewNop())

	tensor := &imageprocessor.Tensor{Height: 1, Width: 1, Channels: 3, Pix: []uint8{1, 2, 3}}
	probs, err := model.Predict(context.Background(), tensor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(probs) != 2 || probs[1] != float32(0.9) {
		t.Fatalf("unexpected probabilities: %v", probs)
	}
	if inv.method != PredictMethod {
		t.Fatalf("unexpected method: %s", inv.method)
	}
	if string(inv.sent) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected payload: %v", inv.sent)
	}
}

func TestRemoteModelWrapsTransportError(t *testing.T) {
	model := newRemoteModel(&stubInvoker{err: errors.New("unavailable")}, zap.NewNop())

	_, err := model.Predict(context.Background(), &imageprocessor.Tensor{})
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "grpcclient.predict" {
		t.Fatalf("expected OperationError, got %v", err)
	}
}

func TestRemoteModelRejectsNonNumericValues(t *testing.T) {
	reply, _ := structpb.NewList([]any{"alif"})
	model := newRemoteModel(&stubInvoker{reply: reply}, zap.NewNop())

	if _, err := model.Predict(context.Background(), &imageprocessor.Tensor{}); err == nil {
		t.Fatal("expected error for non-numeric probability")
	}
}
