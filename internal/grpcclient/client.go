package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/hijaiyah-api/internal/classifier"
	"github.com/example/hijaiyah-api/internal/imageprocessor"
	"github.com/example/hijaiyah-api/internal/logging"
)

// PredictMethod is the unary method served by the remote inference service.
// The request is the raw HWC uint8 raster; the response lists probabilities.
const PredictMethod = "/hijaiyah.inference.v1.Classifier/Predict"

// invoker is satisfied by *grpc.ClientConn.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// DialInference returns a classifier.Model backed by a remote inference service.
func DialInference(ctx context.Context, addr string, logger *zap.Logger) (classifier.Model, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_inference", "", err)
		logger.Error("failed to dial inference service", logging.ErrorField(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return newRemoteModel(conn, logger), conn, nil
}

type remoteModel struct {
	conn   invoker
	logger *zap.Logger
}

func newRemoteModel(conn invoker, logger *zap.Logger) *remoteModel {
	return &remoteModel{conn: conn, logger: logger.Named("grpc_inference")}
}

func (m *remoteModel) Predict(ctx context.Context, tensor *imageprocessor.Tensor) ([]float32, error) {
	req := wrapperspb.Bytes(tensor.Pix)
	resp := &structpb.ListValue{}
	if err := m.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		m.logger.Error("inference call failed", logging.ErrorField(wrapped))
		return nil, wrapped
	}

	probs := make([]float32, len(resp.GetValues()))
	for i, v := range resp.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("grpcclient: probability %d is not a number", i)
		}
		probs[i] = float32(n.NumberValue)
	}
	return probs, nil
}
