package device

import (
	"context"

	"github.com/dragonball-hacks/vzboot/pkg/link"
)

type Device interface {
	// Name() returns a name and maybe some extra info about this Device. This info is not machine readable.
	Name() string
	// Connect() opens the link to the boot ROM. It may block. The returned port is at link.InitialBaud and owned by the caller until Disconnect().
	Connect(ctx context.Context) (link.Port, error)
	Disconnect() error
}
