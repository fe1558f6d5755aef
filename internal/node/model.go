package node

import (
	"errors"
	"time"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeExists   = errors.New("node already exists")
	ErrInvalidNode  = errors.New("invalid node")
)

// Kind is the type of corporate entity operating a node.
type Kind string

const (
	KindAirport Kind = "airport"
	KindAirline Kind = "airline"
)

// Valid reports whether k is a known node kind.
func (k Kind) Valid() bool {
	return k == KindAirport || k == KindAirline
}

// Node is a corporate participant billed through its enterprise account.
// AccountID equals ID.
type Node struct {
	ID         string    `json:"node_id"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	RegionCode string    `json:"region_code"`
	AccountID  string    `json:"account_id"`
	CreatedAt  time.Time `json:"created_at"`
}
