package model

import (
	"fmt"
	"time"
)

// Node is a remote bitcoin daemon the scanner polls.
type Node struct {
	ID                     int64
	Name                   string
	RPCHost                string
	RPCPort                int
	MirrorRPCPort          *int
	RPCUser                string
	RPCPass                string
	Archive                bool
	Enabled                bool
	UnreachableSince       *time.Time
	MirrorUnreachableSince *time.Time
	LastPolled             *time.Time
	InitialBlockDownload   bool
}

// Address returns the host:port of the node's primary RPC endpoint.
func (n Node) Address() string {
	return fmt.Sprintf("%s:%d", n.RPCHost, n.RPCPort)
}

// MirrorAddress returns the host:port of the mirror endpoint, if configured.
func (n Node) MirrorAddress() (string, bool) {
	if n.MirrorRPCPort == nil {
		return "", false
	}
	return fmt.Sprintf("%s:%d", n.RPCHost, *n.MirrorRPCPort), true
}

// HasMirror reports whether a second RPC port for destructive calls exists.
func (n Node) HasMirror() bool {
	return n.MirrorRPCPort != nil
}
