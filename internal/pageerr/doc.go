// Package pageerr defines the status taxonomy shared by the storage
// collaborator, the merge strategies, and the external resolver
// protocol: OK, PartialResult, NotFound, InternalError, and a Storage
// kind for translated errors coming out of the storage layer.
package pageerr
