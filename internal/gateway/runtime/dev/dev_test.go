package dev

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferd-ai/inferd/internal/gateway/runtime"
	"github.com/inferd-ai/inferd/pkg/logging"
)

func writeModelDir(t *testing.T, vocab string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(vocab), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), []byte("weights"), 0o644))
	return dir
}

func TestNewReportsProbedDevice(t *testing.T) {
	rt := New(logging.Discard())

	d := rt.Device()
	assert.Contains(t, []runtime.DeviceKind{runtime.DeviceCPU, runtime.DeviceApple, runtime.DeviceCUDA}, d.Kind)
	assert.NotEmpty(t, d.Name)
	assert.Greater(t, d.TotalMemoryGB, 0.0)
	assert.Greater(t, rt.FreeMemoryGB(), 0.0)
}

func TestLoadModel(t *testing.T) {
	rt := New(logging.Discard())
	dir := writeModelDir(t, `{"vocab_size": 128}`)

	m, err := rt.LoadModel(context.Background(), dir, runtime.PrecisionFP32)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	assert.Equal(t, 128, m.VocabSize())
	assert.Greater(t, m.MemoryGB(), 0.0)

	logits, err := m.Forward(context.Background(), []int{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, logits, 128)
}

func TestForwardIsDeterministic(t *testing.T) {
	rt := New(logging.Discard())
	dir := writeModelDir(t, `{"vocab_size": 64}`)

	m, err := rt.LoadModel(context.Background(), dir, runtime.PrecisionFP32)
	require.NoError(t, err)

	a, err := m.Forward(context.Background(), []int{5, 9, 11})
	require.NoError(t, err)
	b, err := m.Forward(context.Background(), []int{5, 9, 11})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := m.Forward(context.Background(), []int{5, 9, 12})
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "different context must change the distribution")
}

func TestLoadModelMissingConfig(t *testing.T) {
	rt := New(logging.Discard())
	_, err := rt.LoadModel(context.Background(), t.TempDir(), runtime.PrecisionFP32)
	assert.Error(t, err)
}

func TestComposeAdapter(t *testing.T) {
	rt := New(logging.Discard())
	dir := writeModelDir(t, `{"vocab_size": 64}`)

	base, err := rt.LoadModel(context.Background(), dir, runtime.PrecisionFP32)
	require.NoError(t, err)

	adapterDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(adapterDir, "adapter_model.safetensors"), []byte("lora"), 0o644))

	adapted, err := rt.ComposeAdapter(context.Background(), base, adapterDir)
	require.NoError(t, err)

	assert.Equal(t, base.VocabSize(), adapted.VocabSize())

	baseLogits, err := base.Forward(context.Background(), []int{1, 2})
	require.NoError(t, err)
	adaptedLogits, err := adapted.Forward(context.Background(), []int{1, 2})
	require.NoError(t, err)
	assert.NotEqual(t, baseLogits, adaptedLogits, "adapter must shift the distribution")
}
