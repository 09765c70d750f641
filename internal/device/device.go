package device

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Kind names a class of compute device.
type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
)

// Device identifies where a core keeps its parameters.
type Device struct {
	Kind  Kind
	Index int

	// Brand and feature flags are only filled for CPU devices.
	Brand    string
	Cores    int
	Features []string
}

// Parse reads "cpu", "cuda" or "cuda:<n>".
func Parse(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(CPU) {
		return Detect(), nil
	}
	kind, idx, found := strings.Cut(s, ":")
	if Kind(kind) != CUDA {
		return Device{}, errors.Errorf("device: unknown device %q", s)
	}
	d := Device{Kind: CUDA}
	if found {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, errors.Errorf("device: bad index in %q", s)
		}
		d.Index = n
	}
	return d, nil
}

// Detect describes the host CPU.
func Detect() Device {
	d := Device{
		Kind:  CPU,
		Brand: cpuid.CPU.BrandName,
		Cores: cpuid.CPU.PhysicalCores,
	}
	if d.Cores <= 0 {
		d.Cores = runtime.NumCPU()
	}
	if cpuid.CPU.Supports(cpuid.AVX) {
		d.Features = append(d.Features, "avx")
	}
	if cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) {
		d.Features = append(d.Features, "avx2")
	}
	if cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ) {
		d.Features = append(d.Features, "avx512")
	}
	return d
}

// IsCPU reports whether d is a host CPU.
func (d Device) IsCPU() bool {
	return d.Kind == CPU
}

func (d Device) String() string {
	if d.Kind == CPU {
		return fmt.Sprintf("cpu(%s cores=%d features=%s)", d.Brand, d.Cores, strings.Join(d.Features, ","))
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}
