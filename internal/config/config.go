// Package config layers defaults, a dotenv file, the environment, an optional
// config file and command-line flags into one validated Config.
package config

import (
	"os"
	"strings"
)

// Transports understood by the CLI.
const (
	TransportSMTP  = "smtp"
	TransportSES   = "ses"
	TransportSpool = "spool"
)

const defaultHostname = "localhost"

// Hostname is the EHLO name used when smtp.helo_name is unset: the system
// hostname, or "localhost" when it cannot be determined.
func Hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return defaultHostname
	}
	if host = strings.TrimSpace(host); host == "" {
		return defaultHostname
	}
	return host
}
