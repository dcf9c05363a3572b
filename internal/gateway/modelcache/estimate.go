package modelcache

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/inferd-ai/inferd/internal/gateway/runtime"
)

// defaultParamsBillions is assumed when the identifier gives no hint.
const defaultParamsBillions = 7.0

// memoryOverheadFactor covers activations, KV cache, and framework overhead
// on top of raw weights.
const memoryOverheadFactor = 1.2

var (
	billionsPattern = regexp.MustCompile(`(\d+\.?\d*)b`)
	millionsPattern = regexp.MustCompile(`(\d+\.?\d*)m`)
)

// ParamCountBillions parses the parameter count out of a model identifier,
// e.g. "Llama-3.1-8B" yields 8 and "gemma-2-270m" yields 0.27.
func ParamCountBillions(modelID string) float64 {
	lower := strings.ToLower(modelID)

	if m := billionsPattern.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	if m := millionsPattern.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v / 1000.0
		}
	}
	return defaultParamsBillions
}

// EstimateMemoryGB estimates the resident footprint of a model at the given
// precision.
func EstimateMemoryGB(modelID string, precision runtime.Precision) float64 {
	return ParamCountBillions(modelID) * runtime.BytesPerParam(precision) * memoryOverheadFactor
}
