package engine

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lumeview/tagrunner/pkg/catalog"
)

// InitRuntime initializes the shared ONNX Runtime environment. Must be
// called once before any session is created; DestroyRuntime releases it
// on shutdown.
func InitRuntime(libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	ort.DestroyEnvironment()
}

// ortSession wraps an onnxruntime session with pre-allocated input and
// output tensors. The WD taggers take a single NHWC uint8-range float
// input of shape (1, S, S, 3) and emit one probability per label.
type ortSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newORTSession(modelPath string, m catalog.Model, classes int) (session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", m.ID)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	size := int64(m.InputSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, size, size, 3), make([]float32, size*size*3))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create onnxruntime session: %w", err)
	}

	return &ortSession{session: sess, input: inputTensor, output: outputTensor}, nil
}

func (s *ortSession) run(input []float32) ([]float32, error) {
	data := s.input.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("input has %d values, tensor expects %d", len(input), len(data))
	}
	copy(data, input)
	if err := s.session.Run(); err != nil {
		return nil, err
	}
	out := s.output.GetData()
	probs := make([]float32, len(out))
	copy(probs, out)
	return probs, nil
}

func (s *ortSession) close() {
	s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
}
