// Package instance names the running process in notifications and the status API.
package instance

import (
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

const appID = "signal-trader"

var (
	once sync.Once
	id   string
)

// ID returns a stable identifier for this host: the app-scoped machine id,
// or the hostname when the machine id is unreadable (e.g. in containers).
func ID() string {
	once.Do(func() {
		id = resolve(machineid.ProtectedID, os.Hostname)
	})
	return id
}

// Label is ID shortened for notification bodies, prefixed with the hostname when known.
func Label() string {
	short := ID()
	if len(short) > 12 {
		short = short[:12]
	}
	host, err := os.Hostname()
	if err != nil || host == "" || host == short {
		return short
	}
	return host + "/" + short
}

func resolve(machine func(string) (string, error), hostname func() (string, error)) string {
	if mid, err := machine(appID); err == nil && mid != "" {
		return mid
	}
	if host, err := hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
