package p2p

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
)

const wireVersion = 1

func init() {
	gob.Register(EventBatchWire{})
}

// EventBatchWire is one gossip message: the events a single request
// committed, in seq order
type EventBatchWire struct {
	Version uint8
	Origin  string // peer id of the publishing node
	Events  []byte // JSON-encoded []exchange.Event
}

func encodeBatch(origin string, evs []exchange.Event) ([]byte, error) {
	body, err := json.Marshal(evs)
	if err != nil {
		return nil, errors.Wrap(err, "encode events")
	}
	return gobEncode(EventBatchWire{Version: wireVersion, Origin: origin, Events: body})
}

func decodeBatch(data []byte) (string, []exchange.Event, error) {
	var w EventBatchWire
	if err := gobDecode(data, &w); err != nil {
		return "", nil, errors.Wrap(err, "decode batch")
	}
	if w.Version != wireVersion {
		return "", nil, errors.Newf("unsupported wire version %d", w.Version)
	}
	var evs []exchange.Event
	if err := json.Unmarshal(w.Events, &evs); err != nil {
		return "", nil, errors.Wrap(err, "decode events")
	}
	return w.Origin, evs, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
