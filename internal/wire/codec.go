package wire

import (
	"connectrpc.com/connect"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec marshals plain structs as JSON. It is registered under the name
// "json" and so replaces Connect's protobuf JSON codec.
type Codec struct{}

// Ensure Codec implements connect.Codec
var _ connect.Codec = Codec{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ClientOptions prepends the codec to opts for connect.NewClient.
func ClientOptions(opts ...connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
}

// HandlerOptions prepends the codec to opts for the handler constructors.
func HandlerOptions(opts ...connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
}
