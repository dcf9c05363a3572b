package modelcache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inferd-ai/inferd/internal/gateway/runtime"
)

func TestParamCountBillions(t *testing.T) {
	testCases := []struct {
		modelID  string
		expected float64
	}{
		{"meta-llama/Llama-3.1-8B", 8.0},
		{"Qwen/Qwen2.5-0.5B-Instruct", 0.5},
		{"gemma-2-270m", 0.27},
		{"acme/support-triage-v3", 7.0},
		{"mistral-7b-instruct", 7.0},
		{"", 7.0},
	}

	for _, tc := range testCases {
		t.Run(tc.modelID, func(t *testing.T) {
			assert.InDelta(t, tc.expected, ParamCountBillions(tc.modelID), 1e-9)
		})
	}
}

func TestEstimateMemoryGB(t *testing.T) {
	// 8B params at bf16 with 20% overhead.
	assert.InDelta(t, 8*2*1.2, EstimateMemoryGB("llama-8b", runtime.PrecisionBF16), 1e-9)
	// fp32 doubles that per param.
	assert.InDelta(t, 8*4*1.2, EstimateMemoryGB("llama-8b", runtime.PrecisionFP32), 1e-9)
}
