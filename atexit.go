package pointcloud

import (
	"errors"
	"sync"
	"sync/atomic"
)

// atExit tracks cleanup callbacks (cmd/build_octree registers the close
// of its input file) that release handles on process shutdown without
// every caller threading a defer through main.
var atExit struct {
	sync.Mutex
	fns    []func() error
	closed uint32
}

// RegisterAtExit queues fn to run from RunAtExit.
func RegisterAtExit(fn func() error) {
	if atomic.LoadUint32(&atExit.closed) != 0 {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
}

// RunAtExit runs every registered cleanup, in registration order. An
// earlier failure does not skip the rest: RunAtExit always runs the full
// list and joins every error it collects rather than stopping at the
// first one.
func RunAtExit() error {
	atomic.StoreUint32(&atExit.closed, 1)
	var errs []error
	for _, fn := range atExit.fns {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
