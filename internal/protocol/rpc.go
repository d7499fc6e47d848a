package protocol

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// gRPC names of the sync service.
const (
	ServiceName  = "placesync.v1.SyncService"
	MethodSync   = "/" + ServiceName + "/Sync"
	MethodStatus = "/" + ServiceName + "/Status"
)

// CodecName is the gRPC content-subtype carrying the JSON schema of this package.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets gRPC frames carry the same JSON documents as the HTTP endpoint.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }
