package actions

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Tool describes one action to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Schema lists every action the registry understands, in a stable order.
func Schema() []Tool {
	return []Tool{
		{
			Name:        FlashlightAction,
			Description: "Turn the phone's flashlight (torch) on or off.",
			Parameters:  parameters(flashlightArgs{}),
		},
		{
			Name:        VibrateAction,
			Description: "Vibrate the phone.",
			Parameters:  parameters(vibrateArgs{}),
		},
		{
			Name:        BatteryAction,
			Description: "Check the phone's current battery percentage.",
			Parameters:  parameters(noArgs{}),
		},
		{
			Name:        OpenAppAction,
			Description: "Open another app such as WhatsApp, Facebook, YouTube or Settings.",
			Parameters:  parameters(openAppArgs{}),
		},
		{
			Name:        LocationAction,
			Description: "Find the user's current location and show it on a map.",
			Parameters:  parameters(noArgs{}),
		},
	}
}

func parameters(v any) map[string]any {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := reflector.Reflect(v)

	out := map[string]any{"type": "object", "properties": map[string]any{}}

	raw, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}

	return out
}
