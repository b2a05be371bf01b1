// Package oracle implements the commit graph oracle: a thin,
// read-only adapter over the storage collaborator
// exposing exactly what the ancestor search and the controller need —
// lookup by id, the current head set, parent ids, root content id,
// and timestamp — without leaking the rest of the storage.Store
// surface (journals, object writes) into graph-walking code.
package oracle
