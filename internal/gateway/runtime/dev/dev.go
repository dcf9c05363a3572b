// Package dev is a deterministic CPU runtime used in local development and
// tests. Forward passes are pure functions of the loaded artifact path and
// the token sequence, so generations are reproducible across runs. It loads
// no real weights; memory accounting reflects artifact size on disk.
package dev

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/inferd-ai/inferd/internal/gateway/runtime"
	"github.com/inferd-ai/inferd/pkg/logging"
)

const defaultVocabSize = 1024

// Runtime implements runtime.Runtime on the host CPU.
type Runtime struct {
	device runtime.Device
	logger logging.Interface
}

// New builds a dev runtime. The device is probed from the host so precision
// selection and memory accounting behave as they would in production, even
// though forward passes always run on the CPU.
func New(logger logging.Interface) *Runtime {
	device := runtime.ProbeDevice()
	logger.WithField("device", device.Name).
		WithField("kind", string(device.Kind)).
		Info("Probed execution device")
	return &Runtime{device: device, logger: logger}
}

func (r *Runtime) Device() runtime.Device { return r.device }

// FreeMemoryGB reports device memory on CUDA hosts and host RAM elsewhere.
func (r *Runtime) FreeMemoryGB() float64 {
	if r.device.Kind == runtime.DeviceCUDA {
		if free := runtime.NvidiaFreeMemoryGB(); free > 0 {
			return free
		}
	}
	return runtime.HostFreeMemoryGB()
}

func (r *Runtime) ClearDeviceCache() {}

type modelConfig struct {
	VocabSize int `json:"vocab_size"`
}

// LoadModel reads config.json for the vocabulary size and derives a seed
// from the artifact directory path.
func (r *Runtime) LoadModel(_ context.Context, dir string, _ runtime.Precision) (runtime.Model, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}

	cfg := modelConfig{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.VocabSize <= 0 {
		cfg.VocabSize = defaultVocabSize
	}

	memGB := dirSizeGB(dir)
	r.logger.WithField("dir", dir).
		WithField("vocabSize", cfg.VocabSize).
		Debugf("Loaded dev model (%.3f GB on disk)", memGB)

	return &model{
		seed:  seedFor(dir),
		vocab: cfg.VocabSize,
		memGB: memGB,
	}, nil
}

// ComposeAdapter layers a deterministic perturbation keyed by the adapter
// path over the base model's logits.
func (r *Runtime) ComposeAdapter(_ context.Context, base runtime.Model, adapterDir string) (runtime.Model, error) {
	return &adaptedModel{
		base:  base,
		seed:  seedFor(adapterDir),
		memGB: dirSizeGB(adapterDir),
	}, nil
}

type model struct {
	seed  uint64
	vocab int
	memGB float64
}

func (m *model) Forward(_ context.Context, tokens []int) ([]float32, error) {
	return logitsFor(m.seed, tokens, m.vocab), nil
}

func (m *model) VocabSize() int    { return m.vocab }
func (m *model) MemoryGB() float64 { return m.memGB }
func (m *model) Close() error      { return nil }

type adaptedModel struct {
	base  runtime.Model
	seed  uint64
	memGB float64
}

func (m *adaptedModel) Forward(ctx context.Context, tokens []int) ([]float32, error) {
	logits, err := m.base.Forward(ctx, tokens)
	if err != nil {
		return nil, err
	}
	perturbation := logitsFor(m.seed, tokens, len(logits))
	for i := range logits {
		logits[i] += 0.5 * perturbation[i]
	}
	return logits, nil
}

func (m *adaptedModel) VocabSize() int    { return m.base.VocabSize() }
func (m *adaptedModel) MemoryGB() float64 { return m.memGB }
func (m *adaptedModel) Close() error      { return nil }

// logitsFor hashes the seed and the tail of the token sequence into a
// pseudo-random but fully deterministic logit vector.
func logitsFor(seed uint64, tokens []int, vocab int) []float32 {
	tail := tokens
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}

	state := seed
	for _, tok := range tail {
		state = state*1099511628211 + uint64(tok) + 1
	}

	logits := make([]float32, vocab)
	for i := range logits {
		x := state + uint64(i)*2654435761
		x ^= x >> 33
		x *= 0xff51afd7ed558ccd
		x ^= x >> 33
		// map to roughly [-8, 8)
		logits[i] = float32(int64(x%16000))/1000.0 - 8.0
	}
	return logits
}

func seedFor(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

func dirSizeGB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / (1 << 30)
}
