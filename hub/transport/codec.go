package transport

import (
	"encoding/json"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// Inbound is a decoded frame. Exactly one payload pointer is set, matching Type.
type Inbound struct {
	Type    string
	Connect *protocol.MinecraftConnect
	Roster  *protocol.PlayerUpdate
	Result  *protocol.CommandResponse
	Client  *protocol.ExecuteCommand
}

// Codec converts between wire frames and protocol values for one framing.
type Codec interface {
	Decode(frame []byte) (Inbound, error)
	EncodeCommand(cmd protocol.WebCommand) ([]byte, error)
}

// rawCodec handles {"type": "...", ...fields} frames.
type rawCodec struct{}

func (rawCodec) Decode(frame []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return Inbound{}, &MalformedMessageError{Reason: "invalid json", Err: err}
	}
	if head.Type == "" {
		return Inbound{}, &MalformedMessageError{Reason: "missing type"}
	}
	// Observer commands are an event-socket feature only.
	if head.Type == protocol.TypeExecuteCommand {
		return Inbound{}, &MalformedMessageError{Type: head.Type, Reason: "not accepted on raw connections", Err: ErrUnknownType}
	}
	return decodePayload(head.Type, frame)
}

func (rawCodec) EncodeCommand(cmd protocol.WebCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

// eventCodec handles {"event": "...", "data": {...}} frames.
type eventCodec struct{}

func (eventCodec) Decode(frame []byte) (Inbound, error) {
	var f protocol.EventFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return Inbound{}, &MalformedMessageError{Reason: "invalid json", Err: err}
	}
	if f.Event == "" {
		return Inbound{}, &MalformedMessageError{Reason: "missing event name"}
	}
	if len(f.Data) == 0 {
		return Inbound{}, &MalformedMessageError{Type: f.Event, Reason: "missing data"}
	}
	return decodePayload(f.Event, f.Data)
}

func (eventCodec) EncodeCommand(cmd protocol.WebCommand) ([]byte, error) {
	return encodeEvent(protocol.TypeWebCommand, cmd)
}

// EncodeEvent frames an observer event.
func (eventCodec) EncodeEvent(name string, payload any) ([]byte, error) {
	return encodeEvent(name, payload)
}

func encodeEvent(name string, payload any) ([]byte, error) {
	return protocol.NamedFrame(name, payload)
}

func decodePayload(msgType string, data []byte) (Inbound, error) {
	in := Inbound{Type: msgType}
	switch msgType {
	case protocol.TypeMinecraftConnect:
		var m protocol.MinecraftConnect
		if err := json.Unmarshal(data, &m); err != nil {
			return Inbound{}, &MalformedMessageError{Type: msgType, Reason: "invalid payload", Err: err}
		}
		if m.ServerID == "" {
			return Inbound{}, &MalformedMessageError{Type: msgType, Reason: "missing serverId"}
		}
		in.Connect = &m

	case protocol.TypePlayerUpdate:
		var m protocol.PlayerUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return Inbound{}, &MalformedMessageError{Type: msgType, Reason: "invalid payload", Err: err}
		}
		if m.ServerID == "" {
			return Inbound{}, &MalformedMessageError{Type: msgType, Reason: "missing serverId"}
		}
		if m.Players == nil {
			m.Players = []json.RawMessage{}
		}
		in.Roster = &m

	case protocol.TypeCommandResponse:
		var m protocol.CommandResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return Inbound{}, &MalformedMessageError{Type: msgType, Reason: "invalid payload", Err: err}
		}
		in.Result = &m

	case protocol.TypeExecuteCommand:
		var m protocol.ExecuteCommand
		if err := json.Unmarshal(data, &m); err != nil {
			return Inbound{}, &MalformedMessageError{Type: msgType, Reason: "invalid payload", Err: err}
		}
		in.Client = &m

	default:
		return Inbound{}, &MalformedMessageError{Type: msgType, Reason: "unrecognized discriminator", Err: ErrUnknownType}
	}
	return in, nil
}
