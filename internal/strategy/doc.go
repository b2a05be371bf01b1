// Package strategy declares the merge strategy interface: every
// pluggable merge policy exposes Merge and Cancel.
package strategy
