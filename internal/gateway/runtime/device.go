package runtime

import (
	"os/exec"
	goruntime "runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

// ProbeDevice detects the best available execution device. NVIDIA GPUs are
// detected via nvidia-smi, Apple accelerators by platform. Falls back to CPU.
func ProbeDevice() Device {
	if d, ok := probeNvidia(); ok {
		return d
	}
	if goruntime.GOOS == "darwin" && goruntime.GOARCH == "arm64" {
		return Device{
			Kind:          DeviceApple,
			Name:          "apple-silicon",
			TotalMemoryGB: hostTotalMemoryGB(),
		}
	}
	return Device{
		Kind:          DeviceCPU,
		Name:          "cpu",
		TotalMemoryGB: hostTotalMemoryGB(),
	}
}

func probeNvidia() (Device, bool) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return Device{}, false
	}

	out, err := exec.Command(path,
		"--query-gpu=name,memory.total,compute_cap",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return Device{}, false
	}

	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return Device{}, false
	}

	name := strings.TrimSpace(fields[0])
	totalMiB, _ := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	computeCap, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)

	return Device{
		Kind:          DeviceCUDA,
		Name:          name,
		BF16Supported: computeCap >= 8.0, // Ampere and later
		TotalMemoryGB: totalMiB / 1024,
	}, true
}

// HostFreeMemoryGB returns available host RAM in GB.
func HostFreeMemoryGB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(vm.Available) / (1 << 30)
}

func hostTotalMemoryGB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(vm.Total) / (1 << 30)
}

// NvidiaFreeMemoryGB queries free device memory via nvidia-smi. Returns 0
// when the query fails.
func NvidiaFreeMemoryGB() float64 {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return 0
	}
	out, err := exec.Command(path,
		"--query-gpu=memory.free",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	freeMiB, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0
	}
	return freeMiB / 1024
}
