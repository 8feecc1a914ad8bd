package registry

import "sync"

// AssociationTable maps control instance ids to the receiver host each
// control is bound to. A control is bound to at most one host; many
// controls may share a host. All operations on one control id are
// serialized by the table's lock, so a rebind can never leave a control
// pointing at two hosts.
type AssociationTable struct {
	mu    sync.Mutex
	hosts map[string]string
}

// NewAssociationTable creates an empty table.
func NewAssociationTable() *AssociationTable {
	return &AssociationTable{
		hosts: make(map[string]string),
	}
}

// Bind associates controlID with host, atomically replacing any prior
// association. It returns the previously bound host, if any, so the
// caller can release its connection reference.
func (t *AssociationTable) Bind(controlID, host string) (prev string, rebound bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, rebound = t.hosts[controlID]
	t.hosts[controlID] = host
	return prev, rebound
}

// Unbind removes controlID's association. It is idempotent and returns
// the host the control was bound to, if any.
func (t *AssociationTable) Unbind(controlID string) (host string, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	host, existed = t.hosts[controlID]
	delete(t.hosts, controlID)
	return host, existed
}

// HostOf returns the host controlID is currently bound to.
func (t *AssociationTable) HostOf(controlID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	host, ok := t.hosts[controlID]
	return host, ok
}

// ControlsBoundTo returns every control id bound to host. Order is
// unspecified.
func (t *AssociationTable) ControlsBoundTo(host string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var controls []string
	for id, h := range t.hosts {
		if h == host {
			controls = append(controls, id)
		}
	}
	return controls
}

// Len returns the number of current associations.
func (t *AssociationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hosts)
}
