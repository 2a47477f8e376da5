package mesh

import (
	"context"

	"github.com/relaymesh/meshrt/mesh/transport"
)

// DialFunc establishes a transport connection from localURI to remoteURI
// (spec.md §4.6 "protocol factory -> connection"). transport.LoopbackBroker.Dial
// and a real socket dialer both satisfy this signature.
type DialFunc func(ctx context.Context, localURI, remoteURI string) (transport.Protocol, error)

// NewDialerAddon wraps dial as a protocol Addon registered in a Registry's
// Protocols store: instanceName is the remote app's URI, the same
// create-instance convention CreateInstanceAsync already uses for
// extensions and extension groups.
func NewDialerAddon(name, localURI string, dial DialFunc) *Addon {
	return &Addon{
		Name: name,
		OnCreateInstance: func(instanceName string, cb func(instance interface{}, err error)) {
			proto, err := dial(context.Background(), localURI, instanceName)
			if err != nil {
				cb(nil, err)
				return
			}
			cb(proto, nil)
		},
	}
}
