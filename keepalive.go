package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var errKeepAliveSyntax = errors.New("expected on|off|keepidle:keepintvl:keepcnt")

// parseTCPKeepAlive parses the --tcp-keepalive value. "on" keeps the
// system's probe timings.
func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{}, nil
	}

	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return net.KeepAliveConfig{}, errKeepAliveSyntax
	}

	var vals [3]int
	for i, name := range []string{"keepidle", "keepintvl", "keepcnt"} {
		n, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: %w", name, err)
		}
		if n <= 0 {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: must be > 0", name)
		}
		vals[i] = n
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(vals[0]) * time.Second,
		Interval: time.Duration(vals[1]) * time.Second,
		Count:    vals[2],
	}, nil
}
