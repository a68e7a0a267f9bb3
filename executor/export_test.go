package executor

// Hooks for the external test package.

// ResetTopology clears the process-wide device-count cache so tests can
// install differently shaped drivers.
func ResetTopology() { resetTopology() }

// EnterGuard enters a device guard directly and returns its release func.
func EnterGuard(drv Driver, device int) (release func(), err error) {
	guard, err := newDeviceGuard(drv, device)
	if err != nil {
		return nil, err
	}
	return guard.release, nil
}
