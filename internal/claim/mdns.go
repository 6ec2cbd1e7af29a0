package claim

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// mdnsService is the service type the controller firmware advertises while
// unclaimed. TXT records carry id=<deviceId>, name=<hostname> and fw=<version>.
const mdnsService = "_palplt._tcp"

const mdnsTimeout = 2 * time.Second

func (c *Client) mdnsLookup(ctx context.Context) ([]UnpairedDevice, error) {
	timeout := mdnsTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []UnpairedDevice, 1)
	go func() {
		var found []UnpairedDevice
		for e := range entries {
			dev := entryToDevice(e)
			if dev.ID == "" {
				slog.Debug("mdns entry without device id skipped", "host", e.Host)
				continue
			}
			found = append(found, dev)
		}
		done <- found
	}()

	params := mdns.DefaultParams(mdnsService)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	found := <-done
	if err != nil {
		// A failed sweep is best-effort; whatever answered first still counts.
		slog.Warn("mdns sweep incomplete", "error", err)
	}
	return found, nil
}

func entryToDevice(e *mdns.ServiceEntry) UnpairedDevice {
	dev := UnpairedDevice{
		Name:  strings.TrimSuffix(e.Host, "."),
		Local: true,
	}
	if e.AddrV4 != nil {
		dev.IPAddress = e.AddrV4.String()
	}
	for _, field := range e.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "id":
			dev.ID = value
		case "name":
			dev.Name = value
		case "fw":
			dev.FirmwareVersion = value
		case "mac":
			dev.MACAddress = value
		case "type":
			dev.DeviceType = value
		}
	}
	return dev
}
