// Package automatic implements the last-writer-wins merge strategy:
// entirely in-process, no external process involved.
package automatic
