package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
)

// Message type tags.
const (
	TypeEvent  = "EVENT"
	TypeReq    = "REQ"
	TypeClose  = "CLOSE"
	TypeOK     = "OK"
	TypeEOSE   = "EOSE"
	TypeNotice = "NOTICE"
	TypeClosed = "CLOSED"
)

var (
	// ErrMalformedMessage indicates input that is not a well-shaped message.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownMessage indicates a well-formed array with an unknown tag.
	ErrUnknownMessage = errors.New("unknown message type")
)

// ClientMessage is one of EventMessage, ReqMessage and CloseMessage.
type ClientMessage interface {
	messageType() string
}

// EventMessage carries a raw event; decoding and validation are left to the
// pipeline so that a structurally bad event is still acknowledged.
type EventMessage struct {
	Raw json.RawMessage
}

// ReqMessage opens or replaces a subscription.
type ReqMessage struct {
	SubID   string
	Filters filter.Filters
}

// CloseMessage ends a subscription.
type CloseMessage struct {
	SubID string
}

func (EventMessage) messageType() string { return TypeEvent }
func (ReqMessage) messageType() string   { return TypeReq }
func (CloseMessage) messageType() string { return TypeClose }

func splitArray(data []byte) (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
		return "", nil, fmt.Errorf("%w: expected a non-empty JSON array", ErrMalformedMessage)
	}
	var typ string
	if err := json.Unmarshal(parts[0], &typ); err != nil {
		return "", nil, fmt.Errorf("%w: first element must be a string", ErrMalformedMessage)
	}
	return typ, parts[1:], nil
}

func decodeString(raw json.RawMessage, what string) (string, error) {
	var s string
	if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformedMessage, what)
	}
	return s, nil
}

// ParseClientMessage decodes a message sent by a client.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	typ, args, err := splitArray(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeEvent:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: EVENT takes one event", ErrMalformedMessage)
		}
		return EventMessage{Raw: args[0]}, nil

	case TypeReq:
		if len(args) < 1 {
			return nil, fmt.Errorf("%w: REQ needs a subscription id", ErrMalformedMessage)
		}
		subID, err := decodeString(args[0], "subscription id")
		if err != nil {
			return nil, err
		}
		filters := make(filter.Filters, len(args)-1)
		for i, raw := range args[1:] {
			if err := json.Unmarshal(raw, &filters[i]); err != nil {
				return nil, fmt.Errorf("%w: filter %d: %v", ErrMalformedMessage, i, err)
			}
		}
		return ReqMessage{SubID: subID, Filters: filters}, nil

	case TypeClose:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: CLOSE takes one subscription id", ErrMalformedMessage)
		}
		subID, err := decodeString(args[0], "subscription id")
		if err != nil {
			return nil, err
		}
		return CloseMessage{SubID: subID}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, typ)
}

// marshal encodes v without HTML escaping so event strings keep their bytes.
func marshal(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// callers pass only strings, booleans and filters
		panic(fmt.Sprintf("relay: encode %T: %v", v, err))
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// EncodeOK builds ["OK", id, accepted, message].
func EncodeOK(eventID string, accepted bool, message string) []byte {
	return marshal([]any{TypeOK, eventID, accepted, message})
}

// EncodeEvent builds ["EVENT", subID, ev].
func EncodeEvent(subID string, ev *event.Event) []byte {
	evJSON, _ := ev.MarshalJSON()
	return encodeEventJSON(subID, evJSON)
}

func encodeEventJSON(subID string, evJSON []byte) []byte {
	sub := marshal(subID)
	buf := make([]byte, 0, len(`["EVENT",,]`)+len(sub)+len(evJSON))
	buf = append(buf, `["EVENT",`...)
	buf = append(buf, sub...)
	buf = append(buf, ',')
	buf = append(buf, evJSON...)
	return append(buf, ']')
}

// EncodeEOSE builds ["EOSE", subID].
func EncodeEOSE(subID string) []byte {
	return marshal([]any{TypeEOSE, subID})
}

// EncodeNotice builds ["NOTICE", message].
func EncodeNotice(message string) []byte {
	return marshal([]any{TypeNotice, message})
}

// EncodeEventMessage builds the client message ["EVENT", ev].
func EncodeEventMessage(ev *event.Event) []byte {
	evJSON, _ := ev.MarshalJSON()
	buf := make([]byte, 0, len(evJSON)+12)
	buf = append(buf, `["EVENT",`...)
	buf = append(buf, evJSON...)
	return append(buf, ']')
}

// EncodeReq builds the client message ["REQ", subID, filters...].
func EncodeReq(subID string, filters ...filter.Filter) []byte {
	parts := make([]any, 0, len(filters)+2)
	parts = append(parts, TypeReq, subID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	return marshal(parts)
}

// EncodeClose builds the client message ["CLOSE", subID].
func EncodeClose(subID string) []byte {
	return marshal([]any{TypeClose, subID})
}

// RelayMessage is a decoded relay-to-client message. Only the fields of its
// Type are set.
type RelayMessage struct {
	Type     string
	SubID    string
	Event    *event.Event
	EventID  string
	Accepted bool
	Message  string
}

// ParseRelayMessage decodes a message sent by a relay.
func ParseRelayMessage(data []byte) (*RelayMessage, error) {
	typ, args, err := splitArray(data)
	if err != nil {
		return nil, err
	}
	msg := &RelayMessage{Type: typ}
	switch typ {
	case TypeOK:
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: OK takes three elements", ErrMalformedMessage)
		}
		if msg.EventID, err = decodeString(args[0], "event id"); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(args[1], &msg.Accepted); err != nil {
			return nil, fmt.Errorf("%w: OK status must be a boolean", ErrMalformedMessage)
		}
		if msg.Message, err = decodeString(args[2], "message"); err != nil {
			return nil, err
		}
	case TypeEvent:
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: EVENT takes a subscription id and an event", ErrMalformedMessage)
		}
		if msg.SubID, err = decodeString(args[0], "subscription id"); err != nil {
			return nil, err
		}
		ev, err := event.Parse(args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg.Event = ev
	case TypeEOSE:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: EOSE takes a subscription id", ErrMalformedMessage)
		}
		if msg.SubID, err = decodeString(args[0], "subscription id"); err != nil {
			return nil, err
		}
	case TypeClosed:
		if len(args) < 1 {
			return nil, fmt.Errorf("%w: CLOSED needs a subscription id", ErrMalformedMessage)
		}
		if msg.SubID, err = decodeString(args[0], "subscription id"); err != nil {
			return nil, err
		}
		if len(args) > 1 {
			msg.Message, _ = decodeString(args[1], "message")
		}
	case TypeNotice:
		if len(args) < 1 {
			return nil, fmt.Errorf("%w: NOTICE needs a message", ErrMalformedMessage)
		}
		if msg.Message, err = decodeString(args[0], "message"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, typ)
	}
	return msg, nil
}
