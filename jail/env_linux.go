package jail

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// childEnv is the only environment bequeathed to the container; nothing
// from the caller is forwarded.
var childEnv = []string{
	"HOME=/home",
	"LANG=en_US.UTF-8",
	"PATH=/usr/bin",
	"DOTNET_CLI_TELEMETRY_OPTOUT=1",
}

// setEnvironment replaces the process environment with the fixed block and
// returns it; both init and the untrusted program are exec'd with exactly
// this set.
func setEnvironment() []string {
	os.Clearenv()
	for _, kv := range childEnv {
		k, v, _ := strings.Cut(kv, "=")
		os.Setenv(k, v)
	}
	return os.Environ()
}

// cpuSetSize is the number of cpus a unix.CPUSet can describe.
const cpuSetSize = 1024

// pinCPUAffinity restricts the process (and everything it clones) to the
// first allowed core, so timing is comparable across runs on multi-core
// machines.
func pinCPUAffinity() error {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return err
	}
	if set.Count() <= 1 {
		return nil
	}
	for i := 0; i < cpuSetSize; i++ {
		if !set.IsSet(i) {
			continue
		}
		var one unix.CPUSet
		one.Zero()
		one.Set(i)
		return unix.SchedSetaffinity(0, &one)
	}
	return nil
}
