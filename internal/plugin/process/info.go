package process

import (
	"github.com/mitchellh/go-ps"
)

// Info is a diagnostic snapshot of a plugin process.
type Info struct {
	Path        string
	Name        string
	Pid         int
	State       State
	Outstanding int

	// Executable is the process name as the OS reports it, empty when the
	// process is not running or cannot be found.
	Executable string
}

// Info returns a diagnostic snapshot. It looks the child up in the OS
// process table, so it is meant for status output rather than the tick loop.
func (p *Process) Info() Info {
	info := Info{
		Path:        p.path,
		Name:        p.Metadata().Name,
		Pid:         p.pid(),
		State:       p.State(),
		Outstanding: p.calls.Len(),
	}

	if info.Pid > 0 {
		if proc, err := ps.FindProcess(info.Pid); err == nil && proc != nil {
			info.Executable = proc.Executable()
		}
	}
	return info
}
