// Package drake is the everyday-use wrapper around [core]: an [Open]
// constructor for [core.Session], ready-made [core.Operation] implementations for running
// external commands ([CmdOp], [PipeOp]), a [WriteTracer] that renders build
// progress with [sllm] templates, and a small [Edit] helper for defining a
// build graph without threading error returns through every call.
package drake
