package scheduler

// RolloutStep is what one reconcile pass may do to a group: start new
// instances and drain replaced ones.
type RolloutStep struct {
	CreateNew int
	DrainOld  int
}

// Strategy selects how replaced capacity rotates out during a respec.
type Strategy int

const (
	// StrategyImmediate scales straight to target and drains every
	// replaced instance in the same pass. Old instances keep serving
	// until their drain completes, so capacity never dips.
	StrategyImmediate Strategy = iota
	// StrategySurge rotates one instance at a time: at most one extra
	// over target, old capacity drains only once new capacity is ready.
	StrategySurge
)

const (
	rollingSurge          = 1
	rollingMaxUnavailable = 0
)

// PlanRollout computes the next step for one (env, process) group.
// desired is the replica target, current/readyCurrent count instances
// on the new spec, old counts still-running instances on a replaced
// spec.
func PlanRollout(strategy Strategy, desired, current, readyCurrent, old int) RolloutStep {
	if strategy == StrategySurge {
		return planSurge(desired, current, readyCurrent, old)
	}

	var step RolloutStep
	step.CreateNew = desired - current
	if step.CreateNew < 0 {
		step.CreateNew = 0
	}
	step.DrainOld = old
	return step
}

func planSurge(desired, current, readyCurrent, old int) RolloutStep {
	var step RolloutStep

	// start new instances, bounded by the surge budget
	missing := desired - current
	budget := desired + rollingSurge - (current + old)
	step.CreateNew = minInt(missing, budget)
	if step.CreateNew < 0 {
		step.CreateNew = 0
	}

	// drain old only while serving capacity stays at target
	serving := readyCurrent + old
	drainable := serving - (desired - rollingMaxUnavailable)
	step.DrainOld = minInt(old, drainable)
	if step.DrainOld < 0 {
		step.DrainOld = 0
	}

	return step
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
