package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMissingDeviceID = errors.New("missing deviceId")

// Decode turns a raw envelope into a typed message. Fields arrive from a
// loosely typed server, so each one is coerced individually: a bad or
// missing optional field becomes a safe default instead of poisoning
// downstream state. A missing deviceId is a protocol error and the caller
// drops the envelope.
func Decode(env Envelope, now time.Time) (Message, error) {
	switch env.Event {
	case EventUserActionRequired:
		return decodeUserAction(env.Data, now)
	case EventDeviceStatus:
		return decodeDeviceStatus(env.Data, now)
	case EventLightingSystemStatus:
		return decodeLightingStatus(env.Data, now)
	default:
		return Unknown{Event: env.Event, Data: env.Data}, nil
	}
}

func decodeUserAction(data json.RawMessage, now time.Time) (Message, error) {
	fields, err := fieldsOf(data)
	if err != nil {
		return nil, err
	}
	deviceID := str(fields, "deviceId")
	if deviceID == "" {
		return nil, fmt.Errorf("userActionRequired: %w", ErrMissingDeviceID)
	}
	action := Action(str(fields, "action"))
	if action == "" {
		return nil, errors.New("userActionRequired: missing action")
	}
	return UserActionRequired{
		DeviceID:     deviceID,
		Action:       action,
		Message:      str(fields, "message"),
		Instructions: str(fields, "instructions"),
		PairingCode:  str(fields, "pairingCode"),
		Timeout:      time.Duration(integer(fields, "timeout")) * time.Second,
		Timestamp:    millis(fields, "timestamp", now),
	}, nil
}

func decodeDeviceStatus(data json.RawMessage, now time.Time) (Message, error) {
	fields, err := fieldsOf(data)
	if err != nil {
		return nil, err
	}
	deviceID := str(fields, "deviceId")
	if deviceID == "" {
		return nil, fmt.Errorf("deviceStatus: %w", ErrMissingDeviceID)
	}
	return DeviceStatus{
		DeviceID:        deviceID,
		IsOnline:        boolean(fields, "isOnline"),
		IsProvisioned:   boolean(fields, "isProvisioned"),
		FirmwareVersion: str(fields, "firmwareVersion"),
		IPAddress:       str(fields, "ipAddress"),
		MACAddress:      str(fields, "macAddress"),
		WifiRSSI:        int(integer(fields, "wifiRSSI")),
		FreeHeap:        integer(fields, "freeHeap"),
		Uptime:          integer(fields, "uptime"),
		Timestamp:       millis(fields, "timestamp", now),
	}, nil
}

func decodeLightingStatus(data json.RawMessage, now time.Time) (Message, error) {
	fields, err := fieldsOf(data)
	if err != nil {
		return nil, err
	}
	deviceID := str(fields, "deviceId")
	if deviceID == "" {
		return nil, fmt.Errorf("lightingSystemStatus: %w", ErrMissingDeviceID)
	}
	systemType := LightingSystemType(str(fields, "systemType"))
	if systemType == "" {
		systemType = LightingNone
	}
	status := LightingState(str(fields, "status"))
	if status == "" {
		status = LightingStateUnknown
	}
	var caps json.RawMessage
	if raw, ok := fields["capabilities"]; ok {
		if b, err := json.Marshal(raw); err == nil {
			caps = b
		}
	}
	return LightingStatus{
		DeviceID:          deviceID,
		HasLightingSystem: boolean(fields, "hasLightingSystem"),
		IsReady:           boolean(fields, "isReady"),
		SystemType:        systemType,
		Status:            status,
		Capabilities:      caps,
		Timestamp:         millis(fields, "timestamp", now),
	}, nil
}

func fieldsOf(data json.RawMessage) (map[string]any, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return fields, nil
}

func str(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

func boolean(fields map[string]any, key string) bool {
	v, _ := fields[key].(bool)
	return v
}

func integer(fields map[string]any, key string) int64 {
	if v, ok := fields[key].(float64); ok {
		return int64(v)
	}
	return 0
}

// millis reads a unix-milliseconds number, falling back to now for absent or
// malformed values so lastUpdate bookkeeping always has a usable time.
func millis(fields map[string]any, key string, now time.Time) time.Time {
	v, ok := fields[key].(float64)
	if !ok || v <= 0 {
		return now
	}
	return time.UnixMilli(int64(v)).UTC()
}
