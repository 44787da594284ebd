// Package vm implements the interpreter that runs on top of the managed
// heap in package memory.
//
// This package contains:
//   - Bootstrap classes, modules and method tables
//   - Executables: primitives and compiled code
//   - CallUnit, a composable executable built from constant, method,
//     conditional and type test variants
//   - The threaded bytecode dispatcher and its instruction sets
//   - Threads, whose frames and operand stacks are collector roots
package vm
