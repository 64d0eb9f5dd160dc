package run

import (
	"math"

	"github.com/shirou/gopsutil/v3/process"
)

// PIDAlive reports whether a process with the given pid currently exists.
// Lookup errors count as not alive.
func PIDAlive(pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}
