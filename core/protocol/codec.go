package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

type envelope struct {
	Type MessageType `json:"type"`
}

// Decode parses a text frame into a typed message. Messages of unknown type
// decode to [Unknown] without error so callers can log and drop them.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("protocol: envelope missing type field")
	}

	switch env.Type {
	case TypeVoiceResponse:
		return decodeAs[VoiceResponse](data)
	case TypeTranscription:
		return decodeAs[Transcription](data)
	case TypeVADStatus:
		return decodeAs[VADStatus](data)
	case TypeError:
		return decodeAs[ErrorMessage](data)
	case TypeProcessing:
		return Processing{}, nil
	case TypeReady:
		return Ready{}, nil
	case TypeConversationCompleted:
		return ConversationCompleted{}, nil
	case TypePong:
		return Pong{}, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Kind: env.Type, Raw: raw}, nil
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var msg T
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal %s: %w", msg.Type(), err)
	}
	return msg, nil
}

// Encode serialises cmd as a flat JSON object with its name under "type".
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("protocol: nil command")
	}

	payload, err := sonic.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", cmd.Name(), err)
	}

	fields := map[string]any{}
	if err := sonic.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("protocol: flatten %s: %w", cmd.Name(), err)
	}
	fields["type"] = string(cmd.Name())

	return sonic.Marshal(fields)
}
