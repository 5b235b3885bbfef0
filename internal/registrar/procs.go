package registrar

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// processControl abstracts process lookup and termination by name so tests
// never signal real processes.
type processControl interface {
	// Running reports whether any process with the given name exists.
	Running(name string) (bool, error)
	// Terminate sends a graceful signal to every process with the given
	// name, waits up to grace, then kills the survivors. Returns how many
	// processes were signalled; zero is not an error.
	Terminate(name string, grace time.Duration) (int, error)
}

// gopsControl implements processControl with gopsutil.
type gopsControl struct{}

func (gopsControl) findByName(name string) ([]*process.Process, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	var matched []*process.Process
	for _, p := range procs {
		n, err := p.Name()
		if err != nil {
			continue
		}
		if n == name {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (g gopsControl) Running(name string) (bool, error) {
	matched, err := g.findByName(name)
	if err != nil {
		return false, err
	}
	return len(matched) > 0, nil
}

func (g gopsControl) Terminate(name string, grace time.Duration) (int, error) {
	matched, err := g.findByName(name)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	for _, p := range matched {
		_ = p.Terminate()
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		alive := false
		for _, p := range matched {
			if running, _ := p.IsRunning(); running {
				alive = true
				break
			}
		}
		if !alive {
			return len(matched), nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, p := range matched {
		if running, _ := p.IsRunning(); running {
			_ = p.Kill()
		}
	}
	return len(matched), nil
}
