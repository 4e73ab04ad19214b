package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// resolveServeAddr picks the listen address: a positional argument wins,
// then the --addr flag, then the configured default.
func resolveServeAddr(configured, flagAddr string, args []string) (string, error) {
	addr := configured
	if flagAddr != "" {
		addr = flagAddr
	}
	if len(args) > 0 {
		addr = args[0]
	}

	if err := validateAddr(addr); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return addr, nil
}

// validateAddr checks the host:port shape before handing the address to
// net.Listen, so a typo fails with a clear message instead of a bind error.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format: %w", err)
	}

	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil {
			if strings.ContainsAny(host, " \t\n") {
				return fmt.Errorf("invalid host: %s", host)
			}
		}
	}

	if port == "" {
		return fmt.Errorf("port is required")
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if portNum < 0 || portNum > 65535 {
		return fmt.Errorf("port must be 0-65535 (0 = auto-assign), got %d", portNum)
	}

	return nil
}
