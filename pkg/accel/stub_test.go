//go:build !opencl
// +build !opencl

package accel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCLUnavailableWithoutTag(t *testing.T) {
	d, err := NewOpenCL()
	require.Nil(t, d)
	require.ErrorIs(t, err, ErrBackendUnavailable)
}
