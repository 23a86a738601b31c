package connect

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// jsonCodec serializes plain Go messages as JSON. It is registered under
// the "json" name so the Connect protocol's application/json content type
// maps onto it.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}
