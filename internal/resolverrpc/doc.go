// Package resolverrpc carries the external resolver client's
// bidirectional result_provider channel over a real gRPC stream.
// There is no .proto/protoc step available to this
// module, so wire messages are plain Go structs and the stream is
// registered with a custom JSON codec (codec.go) instead of generated
// protobuf marshalling.
package resolverrpc
