package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanRolloutImmediateFreshScaleUp(t *testing.T) {
	step := PlanRollout(StrategyImmediate, 3, 0, 0, 0)
	assert.Equal(t, 3, step.CreateNew)
	assert.Equal(t, 0, step.DrainOld)
}

func TestPlanRolloutImmediateRespecOnePass(t *testing.T) {
	// 2 old instances serving, new spec arrives: the whole rotation
	// happens in a single pass, old capacity drains while new boots
	step := PlanRollout(StrategyImmediate, 2, 0, 0, 2)
	assert.Equal(t, 2, step.CreateNew)
	assert.Equal(t, 2, step.DrainOld)
}

func TestPlanRolloutImmediateConverged(t *testing.T) {
	step := PlanRollout(StrategyImmediate, 3, 3, 3, 0)
	assert.Equal(t, RolloutStep{}, step)
}

func TestPlanRolloutImmediatePartial(t *testing.T) {
	// one new instance already placed: top up and drain the rest
	step := PlanRollout(StrategyImmediate, 3, 1, 0, 2)
	assert.Equal(t, 2, step.CreateNew)
	assert.Equal(t, 2, step.DrainOld)
}

func TestPlanRolloutSurgeStartsOneAtATime(t *testing.T) {
	// 3 old instances serving, new spec arrives: surge budget of 1
	step := PlanRollout(StrategySurge, 3, 0, 0, 3)
	assert.Equal(t, 1, step.CreateNew)
	assert.Equal(t, 0, step.DrainOld)
}

func TestPlanRolloutSurgeDrainsAfterNewReady(t *testing.T) {
	// one new instance ready: one old can go, next new waits for room
	step := PlanRollout(StrategySurge, 3, 1, 1, 3)
	assert.Equal(t, 0, step.CreateNew)
	assert.Equal(t, 1, step.DrainOld)
}

func TestPlanRolloutSurgeConvergesToFixedPoint(t *testing.T) {
	// simulate a full rollout of 3 replicas onto a new spec; every
	// created instance becomes ready before the next pass
	desired, current, ready, old := 3, 0, 0, 3
	for pass := 0; pass < 20; pass++ {
		step := PlanRollout(StrategySurge, desired, current, ready, old)
		if step.CreateNew == 0 && step.DrainOld == 0 && current == desired && old == 0 {
			break
		}
		current += step.CreateNew
		ready = current
		old -= step.DrainOld
	}
	assert.Equal(t, desired, current)
	assert.Equal(t, 0, old)

	// fixed point: a converged group plans nothing
	step := PlanRollout(StrategySurge, desired, current, ready, old)
	assert.Equal(t, RolloutStep{}, step)
}

func TestPlanRolloutSurgeNotReadyHoldsOld(t *testing.T) {
	// new instance exists but is still booting: old stays up
	step := PlanRollout(StrategySurge, 2, 1, 0, 2)
	assert.Equal(t, 0, step.CreateNew)
	assert.Equal(t, 0, step.DrainOld)
}

func TestPlanRolloutSurgeSingleReplica(t *testing.T) {
	// 1 replica respec: new starts alongside old, old drains once ready
	step := PlanRollout(StrategySurge, 1, 0, 0, 1)
	assert.Equal(t, 1, step.CreateNew)
	assert.Equal(t, 0, step.DrainOld)

	step = PlanRollout(StrategySurge, 1, 1, 1, 1)
	assert.Equal(t, 0, step.CreateNew)
	assert.Equal(t, 1, step.DrainOld)
}
