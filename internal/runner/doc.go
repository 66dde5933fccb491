// Package runner schedules virtual users (VUs) through a compiled scenario
// script and aggregates what they record.
//
// # Basic Usage
//
//	prog, err := script.Compile("scenario.lua", src)
//	...
//	r := runner.New(runner.Options{
//		BaseURL:          "http://localhost:8080",
//		Program:          prog,
//		Duration:         30 * time.Second,
//		StartConnections: 10,
//		Connections:      100,
//		RampUp:           20 * time.Second,
//	})
//	snap, err := r.Run(ctx)
//
// # Ramp Control
//
// Once per second the scheduler computes a target VU count and spawns the
// difference. The target moves linearly from StartConnections to
// Connections over RampUp, or follows StepConnections when StepDuration is
// set: each level is held for StepDuration and the remaining time is split
// evenly into linear ramps between levels. VUs are never retired before the
// deadline, so the active count only grows.
//
// # Lifecycle
//
// global_setup runs once on VU 0 before any VU starts and global_teardown
// once after every VU has drained. Each VU runs setup, then scenario until
// the deadline, then teardown. In-flight requests are never interrupted; a
// VU notices the deadline at its next iteration boundary.
//
// # Error Handling
//
// Scenario errors are recorded in the snapshot's error breakdown and the VU
// moves on. A failing per-VU setup or teardown is logged and only affects
// that VU. Script load errors, [ErrScenarioMissing] and global hook failures
// ([HookError]) are returned from [Runner.Run] and [Runner.RunOnce].
package runner
