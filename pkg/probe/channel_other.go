//go:build !linux

package probe

import "errors"

var errUnsupported = errors.New("raw packet channels are only available on linux")

// Open always fails outside linux.
func Open(ifi Interface) (Channel, error) {
	return nil, &ChannelError{Interface: ifi.Name, Op: "open", Err: errUnsupported}
}
