package executor

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// GINKGO_EXECUTOR is the environment variable holding the default executor
// configuration used by NewFromEnv.
//
// The format is "<kind>[:<device>]", e.g. "reference", "omp", "cuda:1".
const GINKGO_EXECUTOR = "GINKGO_EXECUTOR"

// New builds an executor from a configuration string "<kind>[:<device>]".
// Host kinds take no device; accelerator kinds default to device 0, a fresh
// Reference master and plain device memory. For finer control use the typed
// constructors.
func New(config string) (*Executor, error) {
	name := strings.TrimSpace(config)
	deviceStr := ""
	if idx := strings.Index(name, ":"); idx != -1 {
		name, deviceStr = name[:idx], name[idx+1:]
	}
	kind, err := ParseKind(name)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing executor configuration %q", config)
	}

	if kind.IsHost() {
		if deviceStr != "" {
			return nil, errors.Errorf("executor configuration %q: host kind %s takes no device id", config, kind)
		}
		if kind == OMP {
			return NewOMP(0), nil
		}
		return NewReference(), nil
	}

	device := 0
	if deviceStr != "" {
		device, err = strconv.Atoi(deviceStr)
		if err != nil {
			return nil, errors.Errorf("executor configuration %q: invalid device id %q", config, deviceStr)
		}
	}
	return NewAccelerator(kind, device, nil, AllocDevice)
}

// NewFromEnv builds the executor named by the GINKGO_EXECUTOR environment
// variable, falling back to a Reference executor when it is unset.
func NewFromEnv() (*Executor, error) {
	if config, found := os.LookupEnv(GINKGO_EXECUTOR); found {
		return New(config)
	}
	return NewReference(), nil
}
