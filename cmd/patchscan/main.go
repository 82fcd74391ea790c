// Patchscan tests extracted Android firmware for the presence of security
// patches.
//
// A scan reads the firmware's build.prop, loads the vulnerability test
// catalog for its API level and classifies every vulnerability by running
// file, symbol, disassembly and code signature tests against the firmware
// tree:
//
//   - T: patched
//   - F: patch missing
//   - D: patch missing although the claimed patch level covers it
//   - N: not affected
//   - _: inconclusive
//
// Binary tests need an AArch64-capable objdump; rolling signature tests
// also need sigtool. Run 'patchscan verify-setup' to check.
//
// See 'patchscan --help' for available commands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
