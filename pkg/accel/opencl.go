//go:build opencl
// +build opencl

package accel

/*
#cgo CFLAGS: -I${SRCDIR}/../../deps/opencl-headers
#cgo windows LDFLAGS: -L${SRCDIR}/../../deps/lib -lOpenCL
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#define CL_TARGET_OPENCL_VERSION 120
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
*/
import "C"

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

//go:embed kernels/derive.cl
var deriveKernelSource string

const (
	openCLMaxLanes = 1 << 18
	localWorkSize  = 64
)

// OpenCL runs the derive_keys kernel on the first GPU of the first platform.
type OpenCL struct {
	mu sync.Mutex

	platform C.cl_platform_id
	device   C.cl_device_id
	context  C.cl_context
	queue    C.cl_command_queue
	program  C.cl_program
	kernel   C.cl_kernel

	bufLanes C.cl_mem
	bufOut   C.cl_mem
	lanesCap int
	outCap   int

	name    string
	scratch []byte
}

// NewOpenCL initializes the device and builds the embedded kernel.
func NewOpenCL() (Device, error) {
	d := &OpenCL{}
	if err := d.init(); err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	log.InfoS(context.Background(), "OpenCL device ready",
		"device", d.name, "max_lanes", openCLMaxLanes)

	return d, nil
}

func (d *OpenCL) init() error {
	var ret C.cl_int
	var numPlatforms C.cl_uint
	if C.clGetPlatformIDs(0, nil, &numPlatforms) != C.CL_SUCCESS ||
		numPlatforms == 0 {

		return fmt.Errorf("no OpenCL platforms")
	}
	platforms := make([]C.cl_platform_id, numPlatforms)
	C.clGetPlatformIDs(numPlatforms, &platforms[0], nil)
	d.platform = platforms[0]

	var numDevices C.cl_uint
	if C.clGetDeviceIDs(d.platform, C.CL_DEVICE_TYPE_GPU, 0, nil,
		&numDevices) != C.CL_SUCCESS || numDevices == 0 {

		return fmt.Errorf("no GPU devices")
	}
	devices := make([]C.cl_device_id, numDevices)
	C.clGetDeviceIDs(d.platform, C.CL_DEVICE_TYPE_GPU, numDevices,
		&devices[0], nil)
	d.device = devices[0]
	d.name = d.deviceName()

	d.context = C.clCreateContext(nil, 1, &d.device, nil, nil, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("context failed: %d", ret)
	}

	d.queue = C.clCreateCommandQueue(d.context, d.device, 0, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("queue failed: %d", ret)
	}

	src := C.CString(deriveKernelSource)
	defer C.free(unsafe.Pointer(src))

	length := C.size_t(len(deriveKernelSource))
	d.program = C.clCreateProgramWithSource(d.context, 1, &src, &length,
		&ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("program creation failed: %d", ret)
	}

	ret = C.clBuildProgram(d.program, 1, &d.device, nil, nil, nil)
	if ret != C.CL_SUCCESS {
		var logSize C.size_t
		C.clGetProgramBuildInfo(d.program, d.device,
			C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize)
		buildLog := make([]byte, logSize+1)
		C.clGetProgramBuildInfo(d.program, d.device,
			C.CL_PROGRAM_BUILD_LOG, logSize,
			unsafe.Pointer(&buildLog[0]), nil)
		return fmt.Errorf("program build failed: %s",
			strings.TrimRight(string(buildLog), "\x00"))
	}

	kName := C.CString("derive_keys")
	defer C.free(unsafe.Pointer(kName))
	d.kernel = C.clCreateKernel(d.program, kName, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("kernel creation failed: %d", ret)
	}

	return nil
}

func (d *OpenCL) deviceName() string {
	var buf [256]byte
	var size C.size_t
	ret := C.clGetDeviceInfo(d.device, C.CL_DEVICE_NAME, C.size_t(len(buf)),
		unsafe.Pointer(&buf[0]), &size)
	if ret != C.CL_SUCCESS || size == 0 {
		return "OpenCL GPU"
	}
	return strings.TrimRight(string(buf[:size]), "\x00")
}

// Name implements Device.
func (d *OpenCL) Name() string {
	return "OpenCL (" + d.name + ")"
}

// MaxLanes implements Device.
func (d *OpenCL) MaxLanes() int {
	return openCLMaxLanes
}

// ensureBuffers grows the device buffers to hold the batch. Buffers are
// reused across dispatches.
func (d *OpenCL) ensureBuffers(lanesLen, outLen int) error {
	var ret C.cl_int

	if lanesLen > d.lanesCap {
		if d.bufLanes != nil {
			C.clReleaseMemObject(d.bufLanes)
			d.bufLanes = nil
		}
		d.bufLanes = C.clCreateBuffer(d.context, C.CL_MEM_READ_ONLY,
			C.size_t(lanesLen), nil, &ret)
		if ret != C.CL_SUCCESS {
			d.lanesCap = 0
			return clError("lane buffer", ret)
		}
		d.lanesCap = lanesLen
	}

	if outLen > d.outCap {
		if d.bufOut != nil {
			C.clReleaseMemObject(d.bufOut)
			d.bufOut = nil
		}
		d.bufOut = C.clCreateBuffer(d.context, C.CL_MEM_WRITE_ONLY,
			C.size_t(outLen), nil, &ret)
		if ret != C.CL_SUCCESS {
			d.outCap = 0
			return clError("output buffer", ret)
		}
		d.outCap = outLen
	}

	return nil
}

// Dispatch implements Device. The output buffer is read with a blocking
// read after clFinish, so the host never observes a partial batch.
func (d *OpenCL) Dispatch(lanes []Lane, keys int, mode Mode,
	out []byte) error {

	if err := checkDispatch(d, lanes, keys, mode, out); err != nil {
		return err
	}
	if len(lanes) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.scratch = EncodeLanes(lanes, d.scratch)
	outLen := len(lanes) * OutputStride(mode, keys)

	if err := d.ensureBuffers(len(d.scratch), outLen); err != nil {
		return err
	}

	ret := C.clEnqueueWriteBuffer(d.queue, d.bufLanes, C.CL_TRUE, 0,
		C.size_t(len(d.scratch)), unsafe.Pointer(&d.scratch[0]), 0, nil,
		nil)
	if ret != C.CL_SUCCESS {
		return clError("write lanes", ret)
	}

	count := C.cl_uint(len(lanes))
	keysArg := C.cl_uint(keys)
	modeArg := C.cl_uint(mode)

	C.clSetKernelArg(d.kernel, 0, C.size_t(unsafe.Sizeof(d.bufLanes)),
		unsafe.Pointer(&d.bufLanes))
	C.clSetKernelArg(d.kernel, 1, C.size_t(unsafe.Sizeof(d.bufOut)),
		unsafe.Pointer(&d.bufOut))
	C.clSetKernelArg(d.kernel, 2, C.size_t(unsafe.Sizeof(count)),
		unsafe.Pointer(&count))
	C.clSetKernelArg(d.kernel, 3, C.size_t(unsafe.Sizeof(keysArg)),
		unsafe.Pointer(&keysArg))
	C.clSetKernelArg(d.kernel, 4, C.size_t(unsafe.Sizeof(modeArg)),
		unsafe.Pointer(&modeArg))

	global := C.size_t((len(lanes) + localWorkSize - 1) /
		localWorkSize * localWorkSize)
	local := C.size_t(localWorkSize)
	ret = C.clEnqueueNDRangeKernel(d.queue, d.kernel, 1, nil, &global,
		&local, 0, nil, nil)
	if ret != C.CL_SUCCESS {
		return clError("kernel execution", ret)
	}

	if ret = C.clFinish(d.queue); ret != C.CL_SUCCESS {
		return clError("finish", ret)
	}

	ret = C.clEnqueueReadBuffer(d.queue, d.bufOut, C.CL_TRUE, 0,
		C.size_t(outLen), unsafe.Pointer(&out[0]), 0, nil, nil)
	if ret != C.CL_SUCCESS {
		return clError("read output", ret)
	}

	return nil
}

// clError maps resource exhaustion to ErrBackendUnavailable so the search
// driver can fail over to the CPU.
func clError(op string, ret C.cl_int) error {
	switch ret {
	case C.CL_MEM_OBJECT_ALLOCATION_FAILURE, C.CL_OUT_OF_RESOURCES,
		C.CL_OUT_OF_HOST_MEMORY:

		return fmt.Errorf("%w: %s: cl error %d", ErrBackendUnavailable,
			op, ret)
	}
	return fmt.Errorf("%s failed: cl error %d", op, ret)
}

// Close implements Device.
func (d *OpenCL) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bufLanes != nil {
		C.clReleaseMemObject(d.bufLanes)
		d.bufLanes = nil
	}
	if d.bufOut != nil {
		C.clReleaseMemObject(d.bufOut)
		d.bufOut = nil
	}
	if d.kernel != nil {
		C.clReleaseKernel(d.kernel)
		d.kernel = nil
	}
	if d.program != nil {
		C.clReleaseProgram(d.program)
		d.program = nil
	}
	if d.queue != nil {
		C.clReleaseCommandQueue(d.queue)
		d.queue = nil
	}
	if d.context != nil {
		C.clReleaseContext(d.context)
		d.context = nil
	}
	return nil
}
