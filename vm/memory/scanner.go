package memory

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// ErrHandleAnomaly is returned by a strict scan that meets a handle which
// is neither a reference nor a data handle.
var ErrHandleAnomaly = errors.New("memory: handle is neither reference nor data")

// RootScanner enumerates every slot that may hold a reference into the
// heap: global roots, each registered thread's roots, and the handle table.
type RootScanner struct {
	globals *Roots
	nexus   *ThreadNexus
	handles *HandleTable
	strict  bool
	log     commonlog.Logger
}

// NewRootScanner creates a scanner over the given root sources.
func NewRootScanner(globals *Roots, nexus *ThreadNexus, handles *HandleTable) *RootScanner {
	return &RootScanner{
		globals: globals,
		nexus:   nexus,
		handles: handles,
		log:     commonlog.GetLogger("memory.roots"),
	}
}

// SetStrict makes handle anomalies fail the scan instead of being logged.
func (s *RootScanner) SetStrict(strict bool) { s.strict = strict }

// Scan offers every root to f. Any slot whose object moved is rewritten
// before the scan proceeds. A strict scan still visits every root before
// reporting the first anomaly.
func (s *RootScanner) Scan(c *Cycle, f ForwardFunc) error {
	s.globals.scan(c, f, s.globals)

	s.nexus.each(func(t *ManagedThread) {
		t.scan(c, f)
	})

	return s.scanHandles(c, f)
}

func (s *RootScanner) scanHandles(c *Cycle, f ForwardFunc) error {
	var err error
	for _, h := range s.handles.snapshot() {
		switch h.kind {
		case HandleReference:
			v := h.Peek()
			if !v.IsObject() {
				continue
			}
			if !h.shouldOffer() {
				continue
			}
			c.stats.HandlesOffered++
			if to, ok := f(c, h, v).Moved(); ok {
				h.set(to)
			}
			h.unsetAccesses()

		case HandleData:
			s.log.Debugf("cycle %d: skipping data handle %d", c.ID, h.id)

		default:
			c.stats.Anomalies++
			if s.strict {
				if err == nil {
					err = fmt.Errorf("%w: handle %d holds %v", ErrHandleAnomaly, h.id, h.Peek())
				}
				continue
			}
			s.log.Warningf("cycle %d: handle %d holds non-reference %v, skipping", c.ID, h.id, h.Peek())
		}
	}
	return err
}
