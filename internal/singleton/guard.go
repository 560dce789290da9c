// Package singleton implements the Process Singleton Guard (C6): a
// best-effort, startup-only check that no other instance of this program
// with the same worker identity is already running on the host. It is not
// the correctness boundary — the Claim Protocol is — it exists to stop an
// operator footgun like two identical cron entries.
package singleton

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ParseArgv derives the worker identity a peer process would have,
// given its full argv slice (as this program itself parses it), so the
// guard can compare identities without spawning a second CLI parser.
type ParseArgv func(argv []string) (mode, jobID string)

// Check enumerates host processes and returns true if a different PID is
// running the same executable with an identity equal to self. Any error
// enumerating processes is swallowed — per spec §4.6 this check is
// advisory, not a correctness boundary — and treated as "no peer found".
func Check(selfPID int32, programName, hostname, self string, parse ParseArgv) bool {
	procs, err := process.Processes()
	if err != nil {
		return false
	}

	for _, p := range procs {
		if p.Pid == selfPID {
			continue
		}
		cmdline, err := p.CmdlineSlice()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		if filepath.Base(cmdline[0]) != programName {
			continue
		}

		mode, jobID := parse(cmdline[1:])
		if buildIdentity(hostname, mode, jobID) == self {
			return true
		}
	}
	return false
}

// buildIdentity mirrors config.Identity without importing internal/config,
// to keep this package free of a dependency on the CLI/viper stack.
func buildIdentity(hostname, mode, jobID string) string {
	id := hostname
	if mode != "" {
		id += "-" + mode
	}
	if jobID != "" {
		id += "-" + jobID
	}
	return strings.ToLower(id)
}
