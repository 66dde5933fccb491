package runner

import (
	"math"
	"time"
)

// rampPlan maps elapsed run time to a target VU count. Inside a segment the
// target moves linearly from fromVUs to toVUs; after the last segment it
// stays at final.
type rampPlan struct {
	segments []rampSegment
	final    float64
	peak     float64
}

type rampSegment struct {
	start    time.Duration
	duration time.Duration
	fromVUs  float64
	toVUs    float64
}

func compileRampPlan(o Options) *rampPlan {
	if len(o.StepConnections) > 0 && o.StepDuration > 0 {
		return compileStepPlan(o.StepConnections, o.StepDuration, o.Duration)
	}

	plan := &rampPlan{}
	start := float64(o.StartConnections)
	target := float64(o.Connections)
	if target < start {
		// no scale-down: the start level holds for the whole run
		plan.final = start
		plan.peak = start
		return plan
	}
	plan.appendSegment(rampSegment{duration: o.rampWindow(), fromVUs: start, toVUs: target})
	plan.final = target
	return plan
}

// compileStepPlan holds each level for hold, then ramps linearly to the next
// level. The time left after all holds is split evenly between the ramps.
func compileStepPlan(steps []int, hold, total time.Duration) *rampPlan {
	plan := &rampPlan{final: float64(steps[len(steps)-1])}
	for _, s := range steps {
		plan.peak = math.Max(plan.peak, float64(s))
	}
	if len(steps) == 1 {
		return plan
	}

	rampTotal := max(total-time.Duration(len(steps))*hold, 0)
	ramp := rampTotal / time.Duration(len(steps)-1)

	var offset time.Duration
	for i := 0; i < len(steps)-1; i++ {
		from, to := float64(steps[i]), float64(steps[i+1])
		plan.appendSegment(rampSegment{start: offset, duration: hold, fromVUs: from, toVUs: from})
		offset += hold
		if ramp > 0 {
			plan.appendSegment(rampSegment{start: offset, duration: ramp, fromVUs: from, toVUs: to})
			offset += ramp
		}
	}
	return plan
}

func (p *rampPlan) appendSegment(seg rampSegment) {
	p.segments = append(p.segments, seg)
	p.peak = math.Max(p.peak, math.Max(seg.fromVUs, seg.toVUs))
}

func (p *rampPlan) targetAt(elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range p.segments {
		if elapsed < seg.start || elapsed >= seg.start+seg.duration || seg.duration <= 0 {
			continue
		}
		if seg.fromVUs == seg.toVUs {
			return int(seg.fromVUs)
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		return int(seg.fromVUs + (seg.toVUs-seg.fromVUs)*progress)
	}
	return int(p.final)
}

// maxVUs is the number of VU environments the run must prepare.
func (p *rampPlan) maxVUs() int {
	return int(math.Max(p.peak, p.final))
}
