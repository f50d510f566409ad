package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"plc_agent/internal/types"
)

// ErrUnknownEvent is returned for a well-formed envelope whose type_of_event is not recognised.
// Callers log and ignore it.
var ErrUnknownEvent = errors.New("unknown type_of_event")

// Envelope is the inbound wire message.
type Envelope struct {
	TypeOfEvent string          `json:"type_of_event"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// controlData is the payload of the control family (stop, write, health_check, clean_up).
type controlData struct {
	Register *uint16 `json:"register"`
	Value    *uint16 `json:"value"`
	RType    string  `json:"r_type"`
}

// SensorPayload is the payload of the registry family (add/edit/remove sensor)
// and the element type of the health_check snapshot.
type SensorPayload struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	StartRegister uint16 `json:"start_register"`
	EndRegister   uint16 `json:"end_register"`
	Register      string `json:"register,omitempty"`
	SType         string `json:"s_type,omitempty"`
	RType         string `json:"r_type,omitempty"`
}

// Decode parses one wire message into a Command.
// Unparseable JSON yields a deserialization error, a malformed payload a validation error.
func Decode(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, types.NewError(types.KindDeserialization, "decode envelope", err)
	}

	switch env.TypeOfEvent {
	case "wait":
		return Wait{}, nil
	case "stop":
		return Stop{}, nil
	case "health_check":
		return HealthCheck{}, nil
	case "clean_up":
		return CleanUp{}, nil
	case "pause_agent":
		return PauseAgent{}, nil
	case "write":
		return decodeWrite(env.Data)
	case "add_sensor":
		d, err := decodeSensor(env.TypeOfEvent, env.Data)
		if err != nil {
			return nil, err
		}
		return AddSensor{Sensor: d}, nil
	case "edit_sensor":
		d, err := decodeSensor(env.TypeOfEvent, env.Data)
		if err != nil {
			return nil, err
		}
		return EditSensor{ID: d.ID, Sensor: d}, nil
	case "remove_sensor":
		var data SensorPayload
		if err := unmarshalData(env.TypeOfEvent, env.Data, &data); err != nil {
			return nil, err
		}
		if data.ID == "" {
			return nil, types.NewError(types.KindValidation, env.TypeOfEvent, errors.New("id is required"))
		}
		return RemoveSensor{ID: data.ID}, nil
	case "":
		return nil, types.NewError(types.KindValidation, "decode envelope", errors.New("type_of_event is missing"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.TypeOfEvent)
	}
}

func decodeWrite(raw json.RawMessage) (Command, error) {
	var data controlData
	if err := unmarshalData("write", raw, &data); err != nil {
		return nil, err
	}
	if data.Register == nil || data.Value == nil {
		return nil, types.NewError(types.KindValidation, "write", errors.New("register and value are required"))
	}
	kind, err := types.ParseAddressingKind(data.RType)
	if err != nil {
		return nil, types.NewError(types.KindValidation, "write", err)
	}
	return Write{Register: *data.Register, Value: *data.Value, Kind: kind}, nil
}

func decodeSensor(op string, raw json.RawMessage) (types.SensorDescriptor, error) {
	var data SensorPayload
	if err := unmarshalData(op, raw, &data); err != nil {
		return types.SensorDescriptor{}, err
	}
	kind, err := types.ParseAddressingKind(data.RType)
	if err != nil {
		return types.SensorDescriptor{}, types.NewError(types.KindValidation, op, err)
	}
	category, err := types.ParseCategory(data.SType)
	if err != nil {
		return types.SensorDescriptor{}, types.NewError(types.KindValidation, op, err)
	}
	d := types.SensorDescriptor{
		ID:            data.ID,
		Label:         data.Label,
		Category:      category,
		Kind:          kind,
		Start:         data.StartRegister,
		End:           data.EndRegister,
		RegisterLabel: data.Register,
	}
	if err := d.Validate(); err != nil {
		return types.SensorDescriptor{}, types.NewError(types.KindValidation, op, err)
	}
	return d, nil
}

func unmarshalData(op string, raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return types.NewError(types.KindValidation, op, errors.New("data is required"))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.NewError(types.KindDeserialization, op, err)
	}
	return nil
}

// Encode renders a sensor list in the registry-family wire shape, as published on health_check.
func Encode(sensors []types.SensorDescriptor) []SensorPayload {
	out := make([]SensorPayload, 0, len(sensors))
	for _, s := range sensors {
		s = s.Normalize()
		out = append(out, SensorPayload{
			ID:            s.ID,
			Label:         s.Label,
			StartRegister: s.Start,
			EndRegister:   s.End,
			Register:      s.RegisterLabel,
			SType:         string(s.Category),
			RType:         string(s.Kind),
		})
	}
	return out
}
