package processes

import (
	"strconv"

	"github.com/tomyedwab/satellite/types"
)

// Plan is the set of actions that converges running instances to the desired set.
type Plan struct {
	Kill  []types.RunningInstance
	Start []types.InstanceDescriptor
}

func (p Plan) Empty() bool {
	return len(p.Kill) == 0 && len(p.Start) == 0
}

// ComputePlan diffs the desired descriptors against the running instances.
//
// Running instances whose name is not desired are killed. Desired names with
// no running instance are started. When several pids report the same name an
// undesired name loses all of them, while a desired name keeps only the
// highest pid and counts as running. The highest pid is usually the newest
// process, but not after the pid counter wraps around; the choice only needs to
// be deterministic. Instances present on both sides are left alone even if
// their descriptor changed.
func ComputePlan(desired []types.InstanceDescriptor, running []types.RunningInstance) Plan {
	wanted := make(map[string]bool, len(desired))
	for _, d := range desired {
		wanted[d.Name] = true
	}

	keep := make(map[string]types.RunningInstance)
	for _, r := range running {
		if !wanted[r.Name] {
			continue
		}
		if current, ok := keep[r.Name]; !ok || pidValue(r.PID) > pidValue(current.PID) {
			keep[r.Name] = r
		}
	}

	var plan Plan
	for _, r := range running {
		if kept, ok := keep[r.Name]; ok && kept.PID == r.PID {
			continue
		}
		plan.Kill = append(plan.Kill, r)
	}

	started := make(map[string]bool)
	for _, d := range desired {
		if _, ok := keep[d.Name]; ok || started[d.Name] {
			continue
		}
		started[d.Name] = true
		plan.Start = append(plan.Start, d)
	}
	return plan
}

func pidValue(pid string) int {
	n, err := strconv.Atoi(pid)
	if err != nil {
		return -1
	}
	return n
}
