// Package script embeds the scenario scripting runtime.
//
// A scenario is a Lua chunk defining up to five functions:
//
//	function global_setup(ctx) end   -- once per run, VU 0
//	function setup(ctx) end          -- once per VU
//	function scenario(ctx)           -- every iteration, mandatory
//	    local res = ctx:get("/health")
//	    ctx:assert(res:status() == 200, "health check failed")
//	end
//	function teardown(ctx) end       -- once per VU
//	function global_teardown(ctx) end -- once per run, VU 0
//
// [Compile] parses and compiles the source once; [Program.NewInstance] then
// gives every VU its own interpreter state, so script globals never leak
// between VUs. The ctx argument exposes the host API: http, get, post, grpc,
// pace, assert, vu, track_status_codes and the per-VU vars slot. The global
// Pb table offers a schema-less protobuf Builder and Scanner plus gRPC frame
// helpers, and uuid_v4 returns a random UUID string.
package script
