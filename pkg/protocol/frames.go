package protocol

import (
	"encoding/json"
	"fmt"
)

// RawFrame encodes payload as a raw-framed message: the payload's fields
// with a "type" member added at the top level.
func RawFrame(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msgType, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%s payload is not an object: %w", msgType, err)
	}
	fields["type"], _ = json.Marshal(msgType)
	return json.Marshal(fields)
}

// NamedFrame encodes payload as an event-multiplexed message.
func NamedFrame(name string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return json.Marshal(EventFrame{Event: name, Data: data})
}

// DecodeEvent turns an observer frame back into an Event with a typed
// payload. Names it does not know keep their raw data.
func DecodeEvent(f EventFrame) (Event, error) {
	switch f.Event {
	case EventServerConnected:
		return decodeAs[ServerConnected](f)
	case EventServerDisconnected:
		return decodeAs[ServerDisconnected](f)
	case EventPlayersUpdated:
		return decodeAs[PlayersUpdated](f)
	case EventCommandResult:
		return decodeAs[CommandResult](f)
	case EventCommandError:
		return decodeAs[CommandError](f)
	default:
		return Event{Name: f.Event, Payload: f.Data}, nil
	}
}

func decodeAs[T any](f EventFrame) (Event, error) {
	var payload T
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return Event{Name: f.Event, Payload: payload}, nil
}
