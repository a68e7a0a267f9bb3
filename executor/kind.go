package executor

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies the hardware/execution model an Executor targets.
//
// The set of kinds is closed: copy dispatch, the topology registry and the
// driver registry are all keyed by it. Adding a kind means extending the
// transfer matrix in copy.go.
type Kind int

const (
	// KindInvalid is the zero value; no executor carries it.
	KindInvalid Kind = iota

	// Reference executes sequentially on the host. It is the kind used for
	// masters and for verifying accelerator results.
	Reference

	// OMP executes on the host across a worker pool.
	OMP

	// CUDA targets NVIDIA devices.
	CUDA

	// HIP targets AMD devices, or NVIDIA devices when the HIP driver is
	// layered on the CUDA platform.
	HIP

	// DPCPP targets SYCL devices (typically Intel).
	DPCPP
)

var kindNames = map[Kind]string{
	Reference: "reference",
	OMP:       "omp",
	CUDA:      "cuda",
	HIP:       "hip",
	DPCPP:     "dpcpp",
}

// Kinds returns all valid kinds, host kinds first.
func Kinds() []Kind {
	return []Kind{Reference, OMP, CUDA, HIP, DPCPP}
}

// AcceleratorKinds returns the kinds that require a registered Driver.
func AcceleratorKinds() []Kind {
	return []Kind{CUDA, HIP, DPCPP}
}

// String returns the lower-case name of the kind, e.g. "cuda".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// IsHost reports whether the kind executes directly on the host.
func (k Kind) IsHost() bool {
	return k == Reference || k == OMP
}

// IsAccelerator reports whether the kind targets an accelerator device.
func (k Kind) IsAccelerator() bool {
	return k == CUDA || k == HIP || k == DPCPP
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind converts a name like "cuda" back to its Kind.
func ParseKind(name string) (Kind, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for kind, kindName := range kindNames {
		if kindName == lower {
			return kind, nil
		}
	}
	return KindInvalid, errors.Errorf("unknown executor kind %q", name)
}
