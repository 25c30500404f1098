//go:build !opencl
// +build !opencl

package accel

import "fmt"

// NewOpenCL reports that OpenCL support was not compiled in.
// Build with -tags opencl to enable it.
func NewOpenCL() (Device, error) {
	return nil, fmt.Errorf("%w: OpenCL support not compiled. Build with: "+
		"go build -tags opencl", ErrBackendUnavailable)
}
