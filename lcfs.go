// Package lcfs is a client for the Lion Cloud block-addressed virtual
// filesystem: it speaks the register-frame wire protocol to a remote
// device controller over TCP, tracks block allocation across whatever
// devices the controller exposes, and caches recently-used blocks to
// avoid a round trip on repeat access.
package lcfs

import (
	"context"

	"github.com/lioncloud/lcfs/internal/transport"
)

// New builds a FileSystem from cfg. The TCP connection and the
// power-on/probe/init handshake are both deferred to the first Open
// call. A nil cfg uses DefaultConfig.
func New(cfg *Config) *FileSystem {
	cfg = cfg.withDefaults()
	client := transport.NewClient(cfg.addr(), cfg.DialTimeout, nil, cfg.Logger)
	return NewFileSystem(&dialingTransport{client: client}, cfg.CacheBlocks, cfg.Logger)
}

// dialingTransport wraps a *transport.Client so its first Request call
// connects it if it isn't already connected, letting devtable.InitAll
// (invoked from FileSystem.bringUp on the first Open) drive the dial
// without the caller needing a separate Connect step.
type dialingTransport struct {
	client *transport.Client
}

func (d *dialingTransport) Request(ctx context.Context, f uint64, payload []byte) (uint64, []byte, error) {
	if !d.client.Connected() {
		if err := d.client.Connect(ctx); err != nil {
			return 0, nil, err
		}
	}
	return d.client.Request(ctx, f, payload)
}
