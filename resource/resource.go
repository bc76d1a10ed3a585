// Package resource implements the resource registry: a process-wide,
// read-only listing of the computational resources backend packages make
// available, and the selection policy the instance manager
// uses to turn allowed/preference/requirement flags into a concrete
// backend factory.
//
// resource never computes a likelihood; it is a lookup service. Backend
// packages (scalar, vector, ...) register themselves from an init(),
// analogous to how database/sql drivers register with sql.Register.
package resource

import (
	"fmt"
	"sort"
	"sync"

	"bitbucket.org/Davydov/beagle/kernel"
)

// Flag is one bit of a hardware/implementation capability bitmask.
// Precision, synchrony, and device class flags all share this type,
// exactly as BeagleFlags packs them into a single long in the BEAGLE C
// API this registry is modeled on.
type Flag uint64

// Capability flags. Precision, synchrony and device-class bits are all
// drawn from the same closed set.
const (
	Double Flag = 1 << iota
	Single
	Async
	Sync
	CPU
	GPU
	FPGA
	SSE
	Cell
)

var flagNames = []struct {
	f Flag
	s string
}{
	{Double, "DOUBLE"}, {Single, "SINGLE"}, {Async, "ASYNC"}, {Sync, "SYNC"},
	{CPU, "CPU"}, {GPU, "GPU"}, {FPGA, "FPGA"}, {SSE, "SSE"}, {Cell, "CELL"},
}

// Has reports whether every bit set in required is also set in f.
func (f Flag) Has(required Flag) bool {
	return f&required == required
}

func (f Flag) String() string {
	s := ""
	for _, nf := range flagNames {
		if f.Has(nf.f) {
			if s != "" {
				s += "|"
			}
			s += nf.s
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// Resource describes one backend entry in the registry: a human-readable
// name and the capabilities it offers.
type Resource struct {
	Name  string
	Flags Flag
}

// Factory constructs a fresh Backend for one instance's sizing. A backend
// package supplies a Factory when it registers; CreateInstance invokes it
// once per selected instance.
type Factory func(kernel.Sizing) (kernel.Backend, error)

type entry struct {
	Resource
	factory Factory
}

var (
	mu         sync.Mutex
	registered []entry
)

// Register adds a resource to the process-wide registry. Called from a
// backend package's init(); panics on a duplicate name since that
// indicates two backend packages were compiled in by mistake, not a
// runtime condition a caller can recover from.
func Register(name string, flags Flag, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	for _, e := range registered {
		if e.Name == name {
			panic(fmt.Sprintf("resource: duplicate registration for %q", name))
		}
	}
	registered = append(registered, entry{Resource{Name: name, Flags: flags}, factory})
	sort.SliceStable(registered, func(i, j int) bool { return registered[i].Name < registered[j].Name })
}

// List returns the ordered, read-only resource listing. Computed once per
// process (by whichever backend packages are import-linked) and safe to
// call from multiple goroutines.
func List() []Resource {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Resource, len(registered))
	for i, e := range registered {
		out[i] = e.Resource
	}
	return out
}

// Select scans the registry in order, rejects any resource not present in
// allowed (when allowed is non-empty), rejects any missing a bit of
// requirement, and returns the resource index (into List()'s order) whose
// flags match the most bits of preference among the remaining candidates.
// Requirement flags are hard; preference flags are soft, exactly as spec
// §4.2 describes createInstance's backend selection.
func Select(allowed []int, preference, requirement Flag) (index int, factory Factory, err kernel.ErrorCode) {
	mu.Lock()
	defer mu.Unlock()

	allowedSet := map[int]bool{}
	for _, a := range allowed {
		allowedSet[a] = true
	}

	best := -1
	bestScore := -1
	for i, e := range registered {
		if len(allowed) > 0 && !allowedSet[i] {
			continue
		}
		if !e.Flags.Has(requirement) {
			continue
		}
		score := 0
		for _, nf := range flagNames {
			if preference.Has(nf.f) && e.Flags.Has(nf.f) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return -1, nil, kernel.ErrGeneral
	}
	return best, registered[best].factory, kernel.Success
}
