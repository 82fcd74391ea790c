// Package signature implements code identity signatures for compiled
// AArch64 functions.
//
// Two kinds exist, selected by the first ':'-separated field:
//
//	MASK:<hex code length>:<sha256>[:<mask entries>]
//	R_AARCH64_V1:<8 hex meta>:<32 hex checksums>
//
// A mask signature hashes the function body after clearing instruction
// fields that vary between builds (branch targets, page offsets, load
// immediates). Mask entries are '_'-joined; each is a 4 hex digit delta
// from the previous position followed by A, B, C or an explicit 8 hex
// digit mask:
//
//	MASK:40:3f1c...e2:0008A_0004B_0010C
//
// A rolling signature stores two rolling checksums, the second taken a
// fixed distance after the first. Checksums are computed by the external
// sigtool, either one buffer at a time (CheckCodeBuf) or for many
// signatures at once over a whole file (Scanner).
//
// Rolling signature strings are canonical: a string that does not
// re-serialize to itself is rejected as corrupt.
package signature
