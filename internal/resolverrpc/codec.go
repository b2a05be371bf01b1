package resolverrpc

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// jsonCodec implements encoding.Codec by marshalling messages as JSON
// instead of protobuf wire bytes. grpc-go resolves codecs by name per
// call via grpc.CallContentSubtype / grpc.ForceCodec, which is how
// codecName ends up on the wire as the content-subtype.
type jsonCodec struct{}

// Codec is the registered encoding.Codec instance, exported so tests
// and callers outside this package can exercise Marshal/Unmarshal
// directly without dialing a connection.
var Codec = jsonCodec{}

const codecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(Codec)
}

// CallOption selects the JSON codec for a single Resolve call. The
// server accepts it automatically via the registered content-subtype;
// the client must opt in explicitly since grpc defaults to proto.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(codecName)
}
