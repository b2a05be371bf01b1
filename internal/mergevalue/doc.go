// Package mergevalue defines the MergedValue decision type strategies
// and the external resolver protocol exchange for a single key during
// a merge.
package mergevalue
