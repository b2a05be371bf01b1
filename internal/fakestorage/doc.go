// Package fakestorage is an in-memory stand-in for the storage
// collaborator: it implements storage.Store and storage.PageManager
// entirely in process, for tests and local wiring. It is not a
// storage engine — there is no persistence, no sync, and no access
// control.
package fakestorage
