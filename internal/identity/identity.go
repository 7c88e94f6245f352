package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"strings"
)

// ErrInvalidMAC indicates a hardware address that cannot be parsed.
var ErrInvalidMAC = errors.New("invalid mac address")

// ErrNoInterface indicates no usable network interface was found.
var ErrNoInterface = errors.New("no usable network interface")

const (
	// UnknownHostname stands in for devices that expose no name over DHCP.
	UnknownHostname = "unknown"

	deviceIDLen = 16
)

// Fingerprint identifies one device on the network.
type Fingerprint struct {
	DeviceID string
	MAC      string
	Hostname string
}

// NewFingerprint normalizes the hardware address and derives the device id.
func NewFingerprint(mac, hostname string) (Fingerprint, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return Fingerprint{}, err
	}
	hostname = normalizeHostname(hostname)
	return Fingerprint{
		DeviceID: DeviceID(normalized, hostname),
		MAC:      normalized,
		Hostname: hostname,
	}, nil
}

// NormalizeMAC canonicalizes a hardware address to lowercase colon form.
func NormalizeMAC(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidMAC
	}
	hw, err := net.ParseMAC(raw)
	if err != nil {
		return "", ErrInvalidMAC
	}
	return strings.ToLower(hw.String()), nil
}

// DeviceID derives the stable device identifier from a normalized MAC and
// hostname. The id survives DHCP lease churn because neither input depends
// on the assigned address.
func DeviceID(mac, hostname string) string {
	hostname = normalizeHostname(hostname)
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(mac)) + ":" + hostname))
	return hex.EncodeToString(sum[:])[:deviceIDLen]
}

// Self fingerprints the host the agent runs on. When preferred names are
// given only those interfaces are considered, in order.
func Self(preferred []string) (Fingerprint, error) {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		hostname = UnknownHostname
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return Fingerprint{}, err
	}

	if len(preferred) > 0 {
		for _, name := range preferred {
			for _, iface := range ifaces {
				if iface.Name != name {
					continue
				}
				if fp, ok := fingerprintIface(iface, hostname); ok {
					return fp, nil
				}
			}
		}
		return Fingerprint{}, ErrNoInterface
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if fp, ok := fingerprintIface(iface, hostname); ok {
			return fp, nil
		}
	}
	return Fingerprint{}, ErrNoInterface
}

func fingerprintIface(iface net.Interface, hostname string) (Fingerprint, bool) {
	if len(iface.HardwareAddr) == 0 {
		return Fingerprint{}, false
	}
	fp, err := NewFingerprint(iface.HardwareAddr.String(), hostname)
	if err != nil {
		return Fingerprint{}, false
	}
	return fp, true
}

func normalizeHostname(hostname string) string {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return UnknownHostname
	}
	return hostname
}
