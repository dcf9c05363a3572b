// Package runtime defines the boundary between the gateway and the ML
// framework executing model forward passes. The gateway owns sampling,
// stopping, and streaming; a Runtime owns weights, devices, and memory.
// Accelerator-backed runtimes implement this interface out of tree; the dev
// subpackage ships a deterministic CPU implementation.
package runtime

import (
	"context"
)

// DeviceKind identifies the accelerator class a runtime executes on.
type DeviceKind string

const (
	DeviceCUDA  DeviceKind = "cuda"
	DeviceApple DeviceKind = "mps"
	DeviceCPU   DeviceKind = "cpu"
)

// Device describes the probed execution device.
type Device struct {
	Kind          DeviceKind
	Name          string
	BF16Supported bool
	TotalMemoryGB float64
}

// Accelerated reports whether the device is a GPU-class accelerator.
func (d Device) Accelerated() bool {
	return d.Kind != DeviceCPU
}

// Precision is the numeric format weights are loaded in.
type Precision string

const (
	PrecisionBF16 Precision = "bf16"
	PrecisionFP32 Precision = "fp32"
	PrecisionInt8 Precision = "int8"
)

// BytesPerParam returns the per-parameter weight size for a precision.
func BytesPerParam(p Precision) float64 {
	switch p {
	case PrecisionBF16:
		return 2
	case PrecisionInt8:
		return 1
	default:
		return 4
	}
}

// SelectPrecision picks the deterministic load precision for a device:
// CUDA with bf16 support loads bf16, everything else fp32. Int8 is only
// attempted opportunistically on CPU in local dev.
func SelectPrecision(d Device) Precision {
	if d.Kind == DeviceCUDA && d.BF16Supported {
		return PrecisionBF16
	}
	return PrecisionFP32
}

// Model is a resident set of weights the engine can generate against.
type Model interface {
	// Forward returns next-token logits over the vocabulary for the given
	// token sequence. The returned slice is owned by the caller.
	Forward(ctx context.Context, tokens []int) ([]float32, error)
	// VocabSize returns the size of the logit vector Forward produces.
	VocabSize() int
	// MemoryGB is the measured resident footprint of this handle.
	MemoryGB() float64
	// Close releases the weights.
	Close() error
}

// Runtime loads weights onto a device and reports memory conditions.
type Runtime interface {
	// Device returns the probed execution device.
	Device() Device
	// FreeMemoryGB returns the free memory on the active device; for CPU
	// runtimes that is free host memory.
	FreeMemoryGB() float64
	// LoadModel loads the artifact directory at the given precision.
	LoadModel(ctx context.Context, dir string, precision Precision) (Model, error)
	// ComposeAdapter layers a LoRA adapter over base without copying the
	// base weights. The returned model shares the base's lifetime.
	ComposeAdapter(ctx context.Context, base Model, adapterDir string) (Model, error)
	// ClearDeviceCache releases cached device allocations. Safe from any
	// goroutine; a no-op on CPU runtimes.
	ClearDeviceCache()
}
