// Package registry is the shared directory cooperating units publish their
// attributes and status through.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is wrapped by Get when a peer has not published a key.
var ErrNotFound = errors.New("registry: not found")

// Status is the coarse state a unit reports alongside a message.
type Status string

const (
	StatusActive      Status = "active"
	StatusMaintenance Status = "maintenance"
	StatusWaiting     Status = "waiting"
	StatusBlocked     Status = "blocked"
)

// Directory is one unit's view of the shared directory.
type Directory interface {
	// Self is the unit identifier of the caller.
	Self() string
	// Peers lists the other registered units, sorted.
	Peers(ctx context.Context) ([]string, error)
	// Get reads a key published by peer. Missing keys wrap ErrNotFound.
	Get(ctx context.Context, peer, key string) (string, error)
	// Set publishes a key for Self.
	Set(ctx context.Context, key, value string) error
	SetStatus(ctx context.Context, status Status, message string) error
}

// StatusEntry is the stored form of a unit's status.
type StatusEntry struct {
	Status  Status `yaml:"status"`
	Message string `yaml:"message"`
}

func encodeStatus(s StatusEntry) (string, error) {
	b, err := yaml.Marshal(s)
	return string(b), err
}

func decodeStatus(raw string) (StatusEntry, error) {
	var s StatusEntry
	err := yaml.Unmarshal([]byte(raw), &s)
	return s, err
}

// Unit is a parsed "name/number" unit identifier.
type Unit struct {
	Name   string
	Number int
}

func (u Unit) String() string {
	return u.Name + "/" + strconv.Itoa(u.Number)
}

// UnitError reports a malformed unit identifier.
type UnitError struct {
	Input  string
	Reason string
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("registry: bad unit %q: %s", e.Input, e.Reason)
}

// ParseUnit parses "name/number".
func ParseUnit(s string) (Unit, error) {
	name, num, ok := strings.Cut(s, "/")
	if !ok {
		return Unit{}, &UnitError{Input: s, Reason: "missing '/'"}
	}
	if name == "" {
		return Unit{}, &UnitError{Input: s, Reason: "empty name"}
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return Unit{}, &UnitError{Input: s, Reason: "number must be a non-negative integer"}
	}
	return Unit{Name: name, Number: n}, nil
}

// Statuser is implemented by directories that can read back a unit's status.
type Statuser interface {
	Status(ctx context.Context, unit string) (StatusEntry, error)
}
