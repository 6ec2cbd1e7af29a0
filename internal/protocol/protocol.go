package protocol

import (
	"encoding/json"
	"time"
)

// Event names carried on the persistent channel.
const (
	EventUserActionRequired   = "userActionRequired"
	EventDeviceStatus         = "deviceStatus"
	EventLightingSystemStatus = "lightingSystemStatus"
	EventAuthenticate         = "authenticate"
)

// Envelope is the bidirectional wire shape: {"event": ..., "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Action is a step in the device authentication flow. The set is closed on
// our side but the server may introduce new steps, so unknown values are
// carried through rather than rejected.
type Action string

const (
	ActionPressPowerButton        Action = "press_power_button"
	ActionEnterPairingCode        Action = "enter_pairing_code"
	ActionAuthenticationSuccess   Action = "authentication_success"
	ActionAuthenticationFailed    Action = "authentication_failed"
	ActionNanoleafPairing         Action = "nanoleaf_pairing"
	ActionNanoleafPairingProgress Action = "nanoleaf_pairing_progress"
	ActionNanoleafPairingSuccess  Action = "nanoleaf_pairing_success"
	ActionNanoleafPairingFailed   Action = "nanoleaf_pairing_failed"
	ActionLightingAuthRequired    Action = "lighting_authentication_required"
)

func (a Action) Known() bool {
	switch a {
	case ActionPressPowerButton, ActionEnterPairingCode,
		ActionAuthenticationSuccess, ActionAuthenticationFailed,
		ActionNanoleafPairing, ActionNanoleafPairingProgress,
		ActionNanoleafPairingSuccess, ActionNanoleafPairingFailed,
		ActionLightingAuthRequired:
		return true
	}
	return false
}

// Succeeded reports whether the action closes the flow successfully.
func (a Action) Succeeded() bool {
	return a == ActionAuthenticationSuccess || a == ActionNanoleafPairingSuccess
}

// Failed reports whether the action closes the flow with a failure.
func (a Action) Failed() bool {
	return a == ActionAuthenticationFailed || a == ActionNanoleafPairingFailed
}

// LightingSystemType enumerates the supported lighting backends.
type LightingSystemType string

const (
	LightingNanoleaf LightingSystemType = "nanoleaf"
	LightingWLED     LightingSystemType = "wled"
	LightingWS2812   LightingSystemType = "ws2812"
	LightingNone     LightingSystemType = "none"
)

// LightingState enumerates the reported health of a lighting system.
type LightingState string

const (
	LightingStateUnknown      LightingState = "unknown"
	LightingStateWorking      LightingState = "working"
	LightingStateError        LightingState = "error"
	LightingStateAuthRequired LightingState = "authentication_required"
)

// Message is the decoded form of an inbound envelope. Exactly one of the
// concrete types below is produced per envelope; the compiler enforces
// exhaustive handling through the type switch in the router.
type Message interface {
	message()
}

// UserActionRequired tells the user to do something to move a device's
// authentication flow forward.
type UserActionRequired struct {
	DeviceID     string        `json:"deviceId"`
	Action       Action        `json:"action"`
	Message      string        `json:"message"`
	Instructions string        `json:"instructions,omitempty"`
	PairingCode  string        `json:"pairingCode,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// DeviceStatus is a device check-in snapshot.
type DeviceStatus struct {
	DeviceID        string    `json:"deviceId"`
	IsOnline        bool      `json:"isOnline"`
	IsProvisioned   bool      `json:"isProvisioned"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	IPAddress       string    `json:"ipAddress,omitempty"`
	MACAddress      string    `json:"macAddress,omitempty"`
	WifiRSSI        int       `json:"wifiRSSI,omitempty"`
	FreeHeap        int64     `json:"freeHeap,omitempty"`
	Uptime          int64     `json:"uptime,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// LightingStatus reports the state of a device's configured lighting system.
type LightingStatus struct {
	DeviceID          string             `json:"deviceId"`
	HasLightingSystem bool               `json:"hasLightingSystem"`
	IsReady           bool               `json:"isReady"`
	SystemType        LightingSystemType `json:"systemType"`
	Status            LightingState      `json:"status"`
	Capabilities      json.RawMessage    `json:"capabilities,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Unknown carries an event type this client does not understand yet. It is
// forwarded to catch-all listeners instead of being discarded so a newer
// server does not silently lose data on an older client.
type Unknown struct {
	Event string
	Data  json.RawMessage
}

func (UserActionRequired) message() {}
func (DeviceStatus) message()       {}
func (LightingStatus) message()     {}
func (Unknown) message()            {}

// Authenticate is the client→server control message sent right after the
// socket opens.
type Authenticate struct {
	Token string `json:"token"`
}
