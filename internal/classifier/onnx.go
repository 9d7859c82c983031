package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/hijaiyah-api/internal/imageprocessor"
)

var ortInit sync.Once

// ONNXModel runs inference with ONNX Runtime. Tensors are allocated per call,
// so Predict may be used from many goroutines at once.
type ONNXModel struct {
	session    *ort.DynamicAdvancedSession
	numClasses int
}

// ONNXOptions locates the model and names its input and output nodes.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	NumClasses  int
}

// LoadONNXModel initialises the ONNX Runtime environment once per process and
// opens a session for the model file.
func LoadONNXModel(opts ONNXOptions) (*ONNXModel, error) {
	var initErr error
	ortInit.Do(func() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialise onnxruntime: %w", initErr)
	}
	if !ort.IsInitialized() {
		return nil, fmt.Errorf("onnxruntime environment is not initialised")
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", opts.ModelPath, err)
	}
	return &ONNXModel{session: session, numClasses: opts.NumClasses}, nil
}

func (m *ONNXModel) Predict(_ context.Context, tensor *imageprocessor.Tensor) ([]float32, error) {
	input, err := ort.NewTensor(ort.NewShape(tensor.Shape()...), tensor.Float32())
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.numClasses)))
	if err != nil {
		return nil, fmt.Errorf("build output tensor: %w", err)
	}
	defer output.Destroy()

	if err := m.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}

	return append([]float32(nil), output.GetData()...), nil
}

// Close releases the session.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}
