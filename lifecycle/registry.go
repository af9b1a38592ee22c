package lifecycle

import (
	"sync"

	"github.com/guseggert/hana/process"
	"github.com/guseggert/hana/protocol"
)

// record is a live visualization: its process and the endpoint connected to it.
type record struct {
	id   ID
	gen  uint64
	proc *process.Process
	ep   protocol.ControllerEndpoint
}

// Registry holds at most one record per id. The lock is never held across I/O;
// a record is removed first and then torn down outside the lock.
type Registry struct {
	mut     sync.Mutex
	records map[ID]*record
	// latest is the newest Start generation seen per id
	latest map[ID]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		records: map[ID]*record{},
		latest:  map[ID]uint64{},
	}
}

// begin registers a Start of id at gen. It reports false if a newer Start has already begun.
func (r *Registry) begin(id ID, gen uint64) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	if gen < r.latest[id] {
		return false
	}
	r.latest[id] = gen
	return true
}

// put stores rec unless a newer Start of the same id has begun or a record is already present.
// A refused record is still owned by the caller.
func (r *Registry) put(rec *record) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	if rec.gen != r.latest[rec.id] {
		return false
	}
	if _, ok := r.records[rec.id]; ok {
		return false
	}
	r.records[rec.id] = rec
	return true
}

func (r *Registry) get(id ID) *record {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.records[id]
}

// takeOlder removes the record for id if it belongs to a Start older than gen.
func (r *Registry) takeOlder(id ID, gen uint64) *record {
	r.mut.Lock()
	defer r.mut.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.gen >= gen {
		return nil
	}
	delete(r.records, id)
	return rec
}

// takeIf removes rec only if it is still the record stored for its id.
func (r *Registry) takeIf(rec *record) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.records[rec.id] != rec {
		return false
	}
	delete(r.records, rec.id)
	return true
}

func (r *Registry) takeAll() []*record {
	r.mut.Lock()
	defer r.mut.Unlock()
	recs := make([]*record, 0, len(r.records))
	for id, rec := range r.records {
		recs = append(recs, rec)
		delete(r.records, id)
	}
	return recs
}

// Len is the number of live visualizations.
func (r *Registry) Len() int {
	r.mut.Lock()
	defer r.mut.Unlock()
	return len(r.records)
}

// Has reports whether id has a live visualization.
func (r *Registry) Has(id ID) bool {
	return r.get(id) != nil
}
