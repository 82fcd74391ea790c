// Package tool runs the external binaries the test engine depends on:
// objdump for symbol tables and disassembly, and sigtool for rolling
// checksums.
//
// # Architecture
//
//	┌─────────────────┐
//	│ Engine / symtab │
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Objdump/Sigtool │  Build argument lists, interpret output
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Executor        │  os/exec with timeout, captured stdout/stderr
//	└─────────────────┘
//
// Every invocation is bounded by Config.Timeout. A tool that hangs
// surfaces as *TimeoutError; a tool that exits non-zero surfaces as
// *ExecutionError; unparsable output surfaces as *ParseError. Callers
// in the engine map all three to an unknown test result.
//
// # Usage
//
//	exec := tool.NewExecutor(tool.DefaultConfig(), logger)
//	objdump := tool.NewObjdump(exec)
//	lines, err := objdump.SymbolLines(ctx, "/fw/system/lib64/libc.so")
//
//	sigtool := tool.NewSigtool(exec)
//	sum, err := sigtool.Calc(ctx, "--aarch64v1", path, 0, 64)
//
// # Prerequisites
//
// ValidatePrerequisites reports which tools are available. objdump is
// required; sigtool is optional since only rolling signature tests
// need it.
package tool
