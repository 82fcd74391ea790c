// Package symtab recovers function symbols from objdump text output.
//
// Two views of a binary are combined:
//
//	objdump -tT  symbol table: address, section, length, name
//	objdump -h -w  section headers: size, VMA and file offset per section
//
// Symbols in .text get their file position by mapping the address
// through the CODE section that contains it:
//
//	filePosition = section.FileOffset + (address - section.VMA)
//
// Relocatable objects (.o) built with -ffunction-sections carry one
// .text.<name> section per function; those rows become symbols directly.
//
// Tables are all or nothing. A row that should carry a length but does
// not fails the whole build so callers can tell "no table" apart from
// "symbol not present".
package symtab
