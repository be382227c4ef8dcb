package cmdutil

import (
	"context"
	"errors"
	"slices"

	"github.com/shirou/gopsutil/v4/process"
)

// Descendants returns the pids of all live descendants of pid, children
// before grandchildren.
func Descendants(ctx context.Context, pid int) []int {
	var out []int
	queue := []int32{int32(pid)}
	for len(queue) > 0 {
		p, err := process.NewProcessWithContext(ctx, queue[0])
		queue = queue[1:]
		if err != nil {
			continue
		}
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			out = append(out, int(c.Pid))
			queue = append(queue, c.Pid)
		}
	}
	return out
}

// KillTree kills pid and every descendant, deepest first. Processes that have
// already exited are ignored.
func KillTree(ctx context.Context, pid int) error {
	pids := append([]int{pid}, Descendants(ctx, pid)...)
	slices.Reverse(pids)

	var errs []error
	for _, id := range pids {
		p, err := process.NewProcessWithContext(ctx, int32(id))
		if err != nil {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil && Alive(ctx, id) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Alive reports whether pid refers to a running process. Zombies count as
// dead.
func Alive(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return !slices.Contains(status, process.Zombie)
}
