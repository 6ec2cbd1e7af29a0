// Package claim implements the pairing-code claim protocol against the
// palette server, plus discovery of devices that are still unclaimed.
package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/observability"
)

// The three server-side failure modes are semantically different and must
// never be conflated in caller-facing copy: a not-found code may simply be
// mistyped, an expired one needs a device restart, and a conflict means
// another account won the race.
var (
	ErrMalformedCode = errors.New("pairing code must be exactly 6 letters or digits")
	ErrCodeNotFound  = errors.New("invalid pairing code")
	ErrCodeExpired   = errors.New("pairing code has expired, restart the device to get a new one")
	ErrCodeClaimed   = errors.New("device is already claimed by another user")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NormalizeCode trims and uppercases a user-entered pairing code and rejects
// anything that is not exactly 6 alphanumeric characters before a request is
// ever made.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", ErrMalformedCode
	}
	return code, nil
}

type Scope string

const (
	ScopeLocal  Scope = "local"  // network-local enumeration, allows skip-the-code auto-pair
	ScopeGlobal Scope = "global" // all server-known unclaimed devices, manual code entry
)

// Device is the server's device representation returned by a successful claim.
type Device struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	MACAddress         string     `json:"macAddress,omitempty"`
	IPAddress          string     `json:"ipAddress,omitempty"`
	IsOnline           bool       `json:"isOnline"`
	IsProvisioned      bool       `json:"isProvisioned"`
	LightingSystemType string     `json:"lightingSystemType,omitempty"`
	LastSeenAt         *time.Time `json:"lastSeenAt,omitempty"`
}

// UnpairedDevice is a discovery result: a device that nobody owns yet.
type UnpairedDevice struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	DeviceType         string     `json:"deviceType,omitempty"`
	FirmwareVersion    string     `json:"firmwareVersion,omitempty"`
	IPAddress          string     `json:"ipAddress,omitempty"`
	MACAddress         string     `json:"macAddress,omitempty"`
	LastSeen           *time.Time `json:"lastSeen,omitempty"`
	PairingCodeExpires *time.Time `json:"pairingCodeExpires,omitempty"`
	Local              bool       `json:"local"`
}

// PairingInfo is the short-lived claim material a network-local device hands
// out so local discovery can auto-pair without manual code entry.
type PairingInfo struct {
	PairingCode string     `json:"pairingCode"`
	ExpiresAt   *time.Time `json:"pairingCodeExpiresAt,omitempty"`
}

const requestTimeout = 10 * time.Second

type Client struct {
	base  string
	http  *http.Client
	token func() string

	// lookupLocal is swappable for tests; the default is an mDNS sweep.
	lookupLocal func(ctx context.Context) ([]UnpairedDevice, error)
}

func New(baseURL string, token func() string) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	c := &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: requestTimeout},
		token: token,
	}
	c.lookupLocal = c.mdnsLookup
	return c
}

// ClaimByCode claims the device bound to the given pairing code for the
// calling account. The code is normalized client-side first; no request is
// made for a malformed code. The server guarantees at most one winner per
// code: a racing loser always receives ErrCodeClaimed, never partial
// ownership.
func (c *Client) ClaimByCode(ctx context.Context, code, deviceName string) (Device, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		observability.ClaimErrorsTotal.WithLabelValues("malformed").Inc()
		return Device{}, err
	}

	body, err := json.Marshal(map[string]string{
		"pairingCode": normalized,
		"deviceName":  deviceName,
	})
	if err != nil {
		return Device{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/devices/claim-by-code", bytes.NewReader(body))
	if err != nil {
		return Device{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res, err := c.http.Do(req)
	if err != nil {
		observability.ClaimErrorsTotal.WithLabelValues("network").Inc()
		return Device{}, fmt.Errorf("claim request failed: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var dev Device
		if err := json.NewDecoder(res.Body).Decode(&dev); err != nil {
			return Device{}, fmt.Errorf("decode claim response: %w", err)
		}
		slog.Info("device claimed", "device_id", dev.ID, "name", dev.Name)
		return dev, nil
	case http.StatusNotFound:
		observability.ClaimErrorsTotal.WithLabelValues("not_found").Inc()
		return Device{}, ErrCodeNotFound
	case http.StatusBadRequest:
		observability.ClaimErrorsTotal.WithLabelValues("expired").Inc()
		return Device{}, ErrCodeExpired
	case http.StatusConflict:
		observability.ClaimErrorsTotal.WithLabelValues("conflict").Inc()
		return Device{}, ErrCodeClaimed
	default:
		observability.ClaimErrorsTotal.WithLabelValues("server").Inc()
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return Device{}, fmt.Errorf("claim failed: status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// DiscoverUnpaired enumerates unclaimed devices. Local scope is a
// best-effort network sweep; global scope asks the server for everything it
// knows. An empty result is not an error.
func (c *Client) DiscoverUnpaired(ctx context.Context, scope Scope) ([]UnpairedDevice, error) {
	switch scope {
	case ScopeLocal:
		return c.lookupLocal(ctx)
	case ScopeGlobal, "":
		return c.discoverGlobal(ctx)
	default:
		return nil, fmt.Errorf("unknown discovery scope %q", scope)
	}
}

func (c *Client) discoverGlobal(ctx context.Context) ([]UnpairedDevice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/devices/discover/unpaired", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover failed: status %d", res.StatusCode)
	}
	var payload struct {
		Devices []UnpairedDevice `json:"devices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode discover response: %w", err)
	}
	return payload.Devices, nil
}

// PairingInfo fetches the current pairing code of a known unclaimed device.
// Used by the local auto-pair flow where the user never types the code.
func (c *Client) PairingInfo(ctx context.Context, deviceID string) (PairingInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/devices/"+deviceID+"/pairing-info", nil)
	if err != nil {
		return PairingInfo{}, err
	}
	c.authorize(req)
	res, err := c.http.Do(req)
	if err != nil {
		return PairingInfo{}, fmt.Errorf("pairing info request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return PairingInfo{}, ErrCodeNotFound
	}
	if res.StatusCode != http.StatusOK {
		return PairingInfo{}, fmt.Errorf("pairing info failed: status %d", res.StatusCode)
	}
	var info PairingInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return PairingInfo{}, fmt.Errorf("decode pairing info: %w", err)
	}
	return info, nil
}

// AutoPairLocal claims a locally discovered device without manual code
// entry: the device's own pairing code is fetched and fed straight into the
// normal claim path, so all claim invariants still hold.
func (c *Client) AutoPairLocal(ctx context.Context, dev UnpairedDevice) (Device, error) {
	info, err := c.PairingInfo(ctx, dev.ID)
	if err != nil {
		return Device{}, err
	}
	name := dev.Name
	if name == "" {
		name = "Palette Device"
	}
	return c.ClaimByCode(ctx, info.PairingCode, name)
}

func (c *Client) authorize(req *http.Request) {
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}
