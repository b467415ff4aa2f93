package device

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// hostMemoryInfo returns total and available system memory in bytes.
// Unknown platforms degrade to zeros, which the estimator treats as a
// conservative default rather than an error.
func hostMemoryInfo() (total, available uint64) {
	switch runtime.GOOS {
	case "linux":
		return linuxMemoryInfo()
	case "darwin":
		if out, err := runTool("sysctl", "-n", "hw.memsize"); err == nil {
			if bytes, err := strconv.ParseUint(strings.TrimSpace(out), 10, 64); err == nil {
				return bytes, bytes / 2
			}
		}
	}
	return 0, 0
}

func linuxMemoryInfo() (total, available uint64) {
	raw, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb << 10
		case "MemAvailable:":
			available = kb << 10
		}
	}
	return total, available
}
