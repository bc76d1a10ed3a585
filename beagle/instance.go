// Package beagle is the root facade: the public, procedural API a caller
// drives, implemented as an instance-handle table over the kernel.Backend
// selected for each instance from the resource registry. No numeric work
// happens here; every call validates the handle and forwards to the
// backend it was bound to at creation.
package beagle

import (
	"sync"

	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/beagle/kernel"
	"bitbucket.org/Davydov/beagle/resource"
)

var log = logging.MustGetLogger("beagle")

// Reexported so callers need import only this package for the closed
// error taxonomy and the capability-flag bitmask.
type ErrorCode = kernel.ErrorCode
type Sizing = kernel.Sizing
type Flag = resource.Flag
type Op = kernel.Op
type RootRequest = kernel.RootRequest
type EdgeRequest = kernel.EdgeRequest

const (
	Success                  = kernel.Success
	ErrGeneral               = kernel.ErrGeneral
	ErrOutOfMemory           = kernel.ErrOutOfMemory
	ErrUnidentifiedException = kernel.ErrUnidentifiedException
	ErrUninitializedInstance = kernel.ErrUninitializedInstance
	ErrOutOfRange            = kernel.ErrOutOfRange
)

const (
	Double = resource.Double
	Single = resource.Single
	Async  = resource.Async
	Sync   = resource.Sync
	CPU    = resource.CPU
	GPU    = resource.GPU
	FPGA   = resource.FPGA
	SSE    = resource.SSE
	Cell   = resource.Cell
)

// ResourceList is the process-wide, read-only listing of registered
// backends.
func ResourceList() []resource.Resource {
	return resource.List()
}

// InstanceDetails is what Initialize reports back: which resource was
// actually chosen, and its effective capability flags.
type InstanceDetails struct {
	ResourceIndex int
	Flags         resource.Flag
}

type instance struct {
	sizing        kernel.Sizing
	backend       kernel.Backend
	resourceIndex int
	flags         resource.Flag
	initialized   bool
}

var (
	mu          sync.Mutex
	instances   = map[int]*instance{}
	freeHandles []int
	nextHandle  int
)

// CreateInstance selects a backend by scanning the resource registry,
// allocates its buffers, and returns a handle. Handles are recycled after
// Finalize rather than growing without bound.
func CreateInstance(sizing kernel.Sizing, allowedResources []int, preference, requirement resource.Flag) (int, ErrorCode) {
	idx, factory, err := resource.Select(allowedResources, preference, requirement)
	if err != kernel.Success {
		log.Warningf("createInstance: no backend satisfies requirement=%s preference=%s", requirement, preference)
		return -1, err
	}

	backend, buildErr := factory(sizing)
	if buildErr != nil {
		log.Errorf("createInstance: backend factory failed: %v", buildErr)
		return -1, kernel.ErrOutOfMemory
	}

	mu.Lock()
	defer mu.Unlock()
	var handle int
	if n := len(freeHandles); n > 0 {
		handle = freeHandles[n-1]
		freeHandles = freeHandles[:n-1]
	} else {
		handle = nextHandle
		nextHandle++
	}
	instances[handle] = &instance{sizing: sizing, backend: backend, resourceIndex: idx}
	log.Infof("createInstance: handle=%d resource=%d sizing=%+v", handle, idx, sizing)
	return handle, kernel.Success
}

func lookup(handle int) (*instance, ErrorCode) {
	mu.Lock()
	defer mu.Unlock()
	inst, ok := instances[handle]
	if !ok {
		return nil, kernel.ErrUninitializedInstance
	}
	return inst, kernel.Success
}

// Initialize completes deferred backend setup (none needed by the
// in-process CPU backends) and reports which resource was selected.
func Initialize(handle int) (InstanceDetails, ErrorCode) {
	inst, ec := lookup(handle)
	if ec != kernel.Success {
		return InstanceDetails{}, ec
	}
	mu.Lock()
	resources := resource.List()
	var flags resource.Flag
	if inst.resourceIndex >= 0 && inst.resourceIndex < len(resources) {
		flags = resources[inst.resourceIndex].Flags
	}
	inst.flags = flags
	inst.initialized = true
	mu.Unlock()
	log.Infof("initializeInstance: handle=%d flags=%s", handle, flags)
	return InstanceDetails{ResourceIndex: inst.resourceIndex, Flags: flags}, kernel.Success
}

// Finalize releases the backend and frees the handle for reuse.
// Subsequent calls on handle fail uninitialized.
func Finalize(handle int) ErrorCode {
	mu.Lock()
	inst, ok := instances[handle]
	if !ok {
		mu.Unlock()
		return kernel.ErrUninitializedInstance
	}
	delete(instances, handle)
	freeHandles = append(freeHandles, handle)
	mu.Unlock()

	ec := inst.backend.Finalize()
	log.Infof("finalize: handle=%d", handle)
	return ec
}

// ready returns the instance's backend, or ErrUninitializedInstance if the
// handle is unknown or Initialize was never called: an instance not yet
// initialized fails every kernel call.
func ready(handle int) (kernel.Backend, ErrorCode) {
	inst, ec := lookup(handle)
	if ec != kernel.Success {
		return nil, ec
	}
	if !inst.initialized {
		return nil, kernel.ErrUninitializedInstance
	}
	return inst.backend, kernel.Success
}
