// Package device describes where tensors live and what the host CPU offers.
package device

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Device identifies a compute device. Only CPU execution is implemented.
type Device struct {
	Type string
	ID   int
}

const typeCPU = "cpu"

// CPU returns the default host device.
func CPU() Device {
	return Device{Type: typeCPU, ID: -1}
}

// String renders the device as cpu() or cpu(1).
func (d Device) String() string {
	if d.Type == "" {
		d = CPU()
	}
	if d.ID < 0 {
		return d.Type + "()"
	}
	return fmt.Sprintf("%s(%d)", d.Type, d.ID)
}

// IsCPU reports whether d is a host device.
func (d Device) IsCPU() bool {
	return d.Type == "" || d.Type == typeCPU
}

// Describe summarizes the host CPU for training logs.
func Describe() string {
	var features []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "sse4"},
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "asimd"},
	} {
		if cpuid.CPU.Supports(f.id) {
			features = append(features, f.name)
		}
	}
	brand := strings.TrimSpace(cpuid.CPU.BrandName)
	if brand == "" {
		brand = "unknown"
	}
	return fmt.Sprintf("%s cores=%d threads=%d features=[%s]",
		brand, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, strings.Join(features, " "))
}
