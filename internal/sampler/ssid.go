package sampler

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const probeTimeout = 3 * time.Second

// currentSSID resolves the SSID of the active wireless connection. nmcli is
// asked first; hosts without NetworkManager fall through to iw on the given
// interfaces. Not being associated is not an error: the result is just empty.
func currentSSID(ctx context.Context, interfaces []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nmcli", "-t", "-f", "active,ssid", "dev", "wifi").Output()
	if err == nil {
		return parseNmcliActive(string(out)), nil
	}

	var lastErr error = err
	for _, name := range interfaces {
		out, err := exec.CommandContext(ctx, "iw", "dev", name, "link").Output()
		if err != nil {
			lastErr = err
			continue
		}
		if ssid := parseIwLink(string(out)); ssid != "" {
			return ssid, nil
		}
	}
	if len(interfaces) == 0 {
		return "", lastErr
	}
	// iw ran but no interface reported an association.
	return "", nil
}

// parseNmcliActive picks the SSID from terse nmcli output, lines of the form
// "yes:HomeWiFi". Colons inside SSIDs arrive escaped as "\:".
func parseNmcliActive(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "yes:") {
			continue
		}
		ssid := strings.TrimPrefix(line, "yes:")
		return strings.ReplaceAll(ssid, `\:`, ":")
	}
	return ""
}

// parseIwLink picks the SSID out of "iw dev <if> link" output. A host that is
// not associated prints "Not connected." and yields empty.
func parseIwLink(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "SSID:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
		}
	}
	return ""
}
