package main

import (
	"net"
	"strings"
)

// endpoints are the addresses a running server hands to operators and to the matchmaker.
// The join URLs are valid COORD_SERVER_URL values for client mode.
type endpoints struct {
	Status    string
	WebSocket string
	GRPC      string
}

// announce derives the endpoints from the bound listener addresses. grpcAddr is empty
// when no gRPC listener runs.
func announce(httpAddr, grpcAddr string) endpoints {
	host := dialable(httpAddr)
	out := endpoints{
		Status:    "http://" + host,
		WebSocket: "ws://" + host + "/ws",
	}
	if grpcAddr != "" {
		out.GRPC = grpcScheme + dialable(grpcAddr)
	}
	return out
}

// dialable swaps wildcard hosts for localhost so a bound address can be dialed back.
func dialable(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
