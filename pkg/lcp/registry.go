package lcp

// RegistryBuilder collects option descriptors during startup
type RegistryBuilder struct {
	descs []Descriptor
}

// NewRegistryBuilder creates an empty builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{}
}

// Register appends a descriptor. Order of registration is the order options
// are proposed and matched. Type codes are not de-duplicated: when two
// descriptors share one, the first registered shadows the other.
func (b *RegistryBuilder) Register(d Descriptor) *RegistryBuilder {
	b.descs = append(b.descs, d)
	return b
}

// Build freezes the collected descriptors into a Registry. The builder may
// keep registering without affecting registries already built.
func (b *RegistryBuilder) Build() *Registry {
	descs := make([]Descriptor, len(b.descs))
	copy(descs, b.descs)
	return &Registry{descs: descs}
}

// Registry is the immutable, ordered table of option descriptors shared by
// all sessions. It is safe for concurrent use.
type Registry struct {
	descs []Descriptor
}

// NewRegistry builds a registry from descriptors in the given order
func NewRegistry(descs ...Descriptor) *Registry {
	b := NewRegistryBuilder()
	for _, d := range descs {
		b.Register(d)
	}
	return b.Build()
}

// Len returns the number of registered descriptors
func (r *Registry) Len() int {
	return len(r.descs)
}

// Lookup returns the first descriptor registered for typ
func (r *Registry) Lookup(typ uint8) (Descriptor, bool) {
	for _, d := range r.descs {
		if d.Type() == typ {
			return d, true
		}
	}
	return nil, false
}

// instantiate creates the session's option set in registration order,
// skipping descriptors whose factory declines.
func (r *Registry) instantiate(l *Layer) *optionSet {
	set := &optionSet{}
	for _, d := range r.descs {
		opt := d.New(l)
		if opt == nil {
			continue
		}
		set.items = append(set.items, &instance{desc: d, opt: opt})
	}
	return set
}
