package mount

import "github.com/ntripcaster/caster/omap"

// RelayTable restores a feature the distillation dropped: the
// original's separate `nontripsources` AVL tree of (port, mount)
// pairs used by a raw TCP relay that bypasses NTRIP framing entirely
// (`add_nontrip_source` in source.c). It is consulted by a side-channel
// listener deciding which mountpoint a bare passthrough connection on a
// given port should be attributed to, independent of the main
// Registry's path/host/port matching.
type RelayTable struct {
	ports *omap.Tree[int, string]
}

func lessPort(a, b int) bool { return a < b }

// NewRelayTable creates an empty port -> mountpoint relay table.
func NewRelayTable() *RelayTable {
	return &RelayTable{ports: omap.New[int, string](lessPort)}
}

// Add registers port as a relay side-channel for mount, replacing any
// previous registration on that port.
func (t *RelayTable) Add(port int, mount string) {
	t.ports.Replace(port, mount)
}

// Remove deregisters port, reporting whether it had been registered.
func (t *RelayTable) Remove(port int) bool {
	return t.ports.Delete(port)
}

// Lookup resolves port to its relay mountpoint.
func (t *RelayTable) Lookup(port int) (string, bool) {
	return t.ports.Get(port)
}

// Len reports the number of registered relay ports.
func (t *RelayTable) Len() int {
	return t.ports.Len()
}

// Snapshot returns every registered (port, mount) pair as a fresh map;
// iterating the returned map yields the pairs in no particular order.
func (t *RelayTable) Snapshot() map[int]string {
	out := make(map[int]string)
	t.ports.Range(func(port int, mount string) bool {
		out[port] = mount
		return true
	})
	return out
}
