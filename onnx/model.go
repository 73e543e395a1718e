package onnx

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelIO holds the native tensors of one encoder forward pass
type ModelIO struct {
	InputTensors  []ort.Value
	OutputTensors []ort.Value
}

// newEncoderIO builds [batch, seqLen] int64 inputs in the order given by names
// and reserves one runtime-allocated output.
func newEncoderIO(names []string, ids, typeIDs, mask []int64, batch, seqLen int64) (*ModelIO, error) {
	io := &ModelIO{}
	shape := ort.NewShape(batch, seqLen)

	for _, name := range names {
		var data []int64
		switch name {
		case InputIDs:
			data = ids
		case AttentionMask:
			data = mask
		case TokenTypeIDs:
			data = typeIDs
		default:
			io.Destroy()
			return nil, fmt.Errorf("unsupported model input %q", name)
		}
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			io.Destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		io.AddInput(tensor)
	}
	io.AddOutput(nil)

	return io, nil
}

// AddInput appends an input tensor
func (io *ModelIO) AddInput(tensor ort.Value) {
	io.InputTensors = append(io.InputTensors, tensor)
}

// AddOutput adds an output slot. A nil tensor lets the runtime allocate the
// output with whatever shape the model produces.
func (io *ModelIO) AddOutput(tensor ort.Value) {
	io.OutputTensors = append(io.OutputTensors, tensor)
}

// hiddenState copies the first output, which must be a float32 tensor of
// shape [batch, seqLen, dim].
func (io *ModelIO) hiddenState(name string, batch, seqLen int64) ([]float32, int, error) {
	if len(io.OutputTensors) == 0 || io.OutputTensors[0] == nil {
		return nil, 0, fmt.Errorf("%s was not produced", name)
	}
	t, ok := io.OutputTensors[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, fmt.Errorf("failed to type assert %s to *ort.Tensor[float32]", name)
	}
	shape := t.GetShape()
	if len(shape) != 3 || shape[0] != batch || shape[1] != seqLen {
		return nil, 0, fmt.Errorf("unexpected %s shape %v", name, shape)
	}

	// tensor memory goes away with Destroy
	data := t.GetData()
	hidden := make([]float32, len(data))
	copy(hidden, data)
	return hidden, int(shape[2]), nil
}

// Destroy releases every native tensor, including outputs allocated by the
// runtime during Run.
func (io *ModelIO) Destroy() {
	for _, tensor := range io.InputTensors {
		if tensor != nil {
			tensor.Destroy()
		}
	}
	for _, tensor := range io.OutputTensors {
		if tensor != nil {
			tensor.Destroy()
		}
	}
}
