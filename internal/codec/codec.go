// Package codec translates between opaque WebSocket/child payloads and
// (Header, payload) pairs, grounded on original_source/src/message.rs.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/scalesocket/scalesocket/internal/types"
)

// Framing selects how a direction's payloads are parsed/produced.
type Framing int

const (
	FramingNone Framing = iota
	FramingJSON
	FramingGWSocket
)

func (f Framing) String() string {
	switch f {
	case FramingJSON:
		return "json"
	case FramingGWSocket:
		return "gwsocket"
	default:
		return "none"
	}
}

// ParseFraming maps a --frame/--clientframe/--serverframe flag value.
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "", "none":
		return FramingNone, nil
	case "json":
		return FramingJSON, nil
	case "gwsocket":
		return FramingGWSocket, nil
	default:
		return FramingNone, fmt.Errorf("unknown framing %q", s)
	}
}

const (
	gwsocketTypeText   = 1
	gwsocketTypeBinary = 2
	gwsocketHeaderLen  = 12
)

// jsonEnvelope is the subset of fields the codec cares about; all other
// fields of the JSON object are left untouched in the passed-through body.
type jsonEnvelope struct {
	To    *uint32 `json:"_to,omitempty"`
	Meta  bool    `json:"_meta,omitempty"`
	Cache bool    `json:"_cache,omitempty"`
}

// DecodeFromChild parses one child-produced payload into a routed message
// according to framing. The returned payload is what gets published on the
// broadcast bus (verbatim for JSON/None; the unwrapped body for GWSocket).
func DecodeFromChild(framing Framing, payload []byte) (types.Header, []byte, error) {
	switch framing {
	case FramingJSON:
		return decodeJSONFromChild(payload)
	case FramingGWSocket:
		return decodeGWSocketFromChild(payload)
	default:
		return types.BroadcastHeader(), payload, nil
	}
}

func decodeJSONFromChild(payload []byte) (types.Header, []byte, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return types.BroadcastHeader(), payload, nil
	}
	h := types.Header{IsMeta: env.Meta, IsCache: env.Cache}
	if env.To != nil {
		h.To = types.ConnID(*env.To)
		h.ToSet = true
	}
	return h, payload, nil
}

func decodeGWSocketFromChild(payload []byte) (types.Header, []byte, error) {
	if len(payload) < gwsocketHeaderLen {
		return types.Header{}, nil, fmt.Errorf("gwsocket: short header (%d bytes)", len(payload))
	}
	id := binary.LittleEndian.Uint32(payload[0:4])
	typ := binary.LittleEndian.Uint32(payload[4:8])
	length := binary.LittleEndian.Uint32(payload[8:12])
	body := payload[gwsocketHeaderLen:]
	if uint32(len(body)) != length {
		return types.Header{}, nil, fmt.Errorf("gwsocket: length mismatch: header says %d, got %d", length, len(body))
	}
	switch typ {
	case gwsocketTypeText, gwsocketTypeBinary:
	default:
		return types.Header{}, nil, fmt.Errorf("gwsocket: unknown type %d", typ)
	}
	h := types.Header{}
	if id != 0 {
		h.To = types.ConnID(id)
		h.ToSet = true
	}
	return h, body, nil
}

// EncodeGWSocket serializes a message with the 12-byte binary header. Used
// only for round-trip tests; the broker never produces GWSocket frames for
// client->child (see EncodeToChild).
func EncodeGWSocket(id uint32, binaryType bool, body []byte) []byte {
	typ := uint32(gwsocketTypeText)
	if binaryType {
		typ = gwsocketTypeBinary
	}
	buf := make([]byte, gwsocketHeaderLen+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], typ)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(body)))
	copy(buf[gwsocketHeaderLen:], body)
	return buf
}

// EncodeToChild transforms one client-originated frame into what gets
// enqueued on the room's ingress channel. For JSON framing the payload must
// be a JSON object; it is augmented with "_from" and re-serialized. For
// GWSocket framing, client->child is unimplemented per spec and is a
// configuration error, not a per-message one; callers must reject it at
// startup, not here.
func EncodeToChild(framing Framing, from types.ConnID, payload []byte) ([]byte, error) {
	switch framing {
	case FramingJSON:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, fmt.Errorf("codec: client payload is not a JSON object: %w", err)
		}
		if obj == nil {
			return nil, fmt.Errorf("codec: client payload is not a JSON object")
		}
		fromJSON, err := json.Marshal(uint32(from))
		if err != nil {
			return nil, err
		}
		obj["_from"] = fromJSON
		out, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		return out, nil
	case FramingGWSocket:
		return nil, fmt.Errorf("codec: gwsocket framing is not supported client->child")
	default:
		return payload, nil
	}
}
