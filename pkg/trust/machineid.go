package trust

import (
	"os"
	"strings"
)

// machineID reads a stable per-host identifier for key derivation
// (spec.md §3). Ambient, not itself security-sensitive: it is one of
// four inputs into an HMAC key derivation, so a plain stdlib file read
// is sufficient here.
func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		b, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	host, err := os.Hostname()
	if err == nil && host != "" {
		return "hostname:" + host
	}
	return "unknown-machine"
}
