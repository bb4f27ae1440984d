package node

// Metadata is the full projection source for a node, fetched from the
// repository after the node appears in a transaction.
type Metadata struct {
	id          int64
	txnID       int64
	aclID       int64
	tenant      string
	nodeType    string
	aspects     []string
	properties  map[string]PropertyValue
	nodeRef     string
	parentRef   string
	path        string
	namePaths   [][]string
	ancestors   []string
	childCount  int
	ownerID     string
	propertySet bool
}

// MetadataBuilder assembles Metadata field by field. Repository responses
// arrive with optional sections depending on the fetch options, so a
// builder keeps the zero-value sections distinguishable.
type MetadataBuilder struct {
	m Metadata
}

// NewMetadata starts a MetadataBuilder for the given node identity.
func NewMetadata(id, txnID, aclID int64, tenant string) *MetadataBuilder {
	return &MetadataBuilder{m: Metadata{
		id:     id,
		txnID:  txnID,
		aclID:  aclID,
		tenant: tenant,
	}}
}

// Type sets the node type.
func (b *MetadataBuilder) Type(t string) *MetadataBuilder {
	b.m.nodeType = t
	return b
}

// Aspects sets the aspect names applied to the node.
func (b *MetadataBuilder) Aspects(aspects ...string) *MetadataBuilder {
	b.m.aspects = append([]string(nil), aspects...)
	return b
}

// Properties sets the property map.
func (b *MetadataBuilder) Properties(props map[string]PropertyValue) *MetadataBuilder {
	cp := make(map[string]PropertyValue, len(props))
	for k, v := range props {
		cp[k] = v
	}
	b.m.properties = cp
	b.m.propertySet = true
	return b
}

// NodeRef sets the opaque stable reference string.
func (b *MetadataBuilder) NodeRef(ref string) *MetadataBuilder {
	b.m.nodeRef = ref
	return b
}

// ParentRef sets the stable reference of the primary parent.
func (b *MetadataBuilder) ParentRef(ref string) *MetadataBuilder {
	b.m.parentRef = ref
	return b
}

// Path sets the full primary path.
func (b *MetadataBuilder) Path(path string) *MetadataBuilder {
	b.m.path = path
	return b
}

// NamePaths sets the name-path element lists.
func (b *MetadataBuilder) NamePaths(paths [][]string) *MetadataBuilder {
	cp := make([][]string, len(paths))
	for i, p := range paths {
		cp[i] = append([]string(nil), p...)
	}
	b.m.namePaths = cp
	return b
}

// Ancestors sets the ancestor node references, nearest first.
func (b *MetadataBuilder) Ancestors(refs ...string) *MetadataBuilder {
	b.m.ancestors = append([]string(nil), refs...)
	return b
}

// ChildCount sets the number of primary children.
func (b *MetadataBuilder) ChildCount(n int) *MetadataBuilder {
	b.m.childCount = n
	return b
}

// Owner sets the owning authority.
func (b *MetadataBuilder) Owner(owner string) *MetadataBuilder {
	b.m.ownerID = owner
	return b
}

// Build returns the assembled Metadata.
func (b *MetadataBuilder) Build() Metadata {
	return b.m
}

// ID returns the node id.
func (m Metadata) ID() int64 { return m.id }

// TxnID returns the id of the transaction that last committed this node.
func (m Metadata) TxnID() int64 { return m.txnID }

// AclID returns the governing ACL id.
func (m Metadata) AclID() int64 { return m.aclID }

// Tenant returns the tenant domain.
func (m Metadata) Tenant() string { return m.tenant }

// Type returns the node type name.
func (m Metadata) Type() string { return m.nodeType }

// Aspects returns the aspect names applied to the node.
func (m Metadata) Aspects() []string {
	return append([]string(nil), m.aspects...)
}

// HasAspect reports whether the given aspect is applied.
func (m Metadata) HasAspect(name string) bool {
	for _, a := range m.aspects {
		if a == name {
			return true
		}
	}
	return false
}

// Properties returns the property map.
func (m Metadata) Properties() map[string]PropertyValue {
	cp := make(map[string]PropertyValue, len(m.properties))
	for k, v := range m.properties {
		cp[k] = v
	}
	return cp
}

// Property returns a single property value.
func (m Metadata) Property(name string) (PropertyValue, bool) {
	v, ok := m.properties[name]
	return v, ok
}

// NodeRef returns the opaque stable reference string.
func (m Metadata) NodeRef() string { return m.nodeRef }

// ParentRef returns the primary parent reference.
func (m Metadata) ParentRef() string { return m.parentRef }

// Path returns the full primary path.
func (m Metadata) Path() string { return m.path }

// NamePaths returns the name-path element lists.
func (m Metadata) NamePaths() [][]string {
	cp := make([][]string, len(m.namePaths))
	for i, p := range m.namePaths {
		cp[i] = append([]string(nil), p...)
	}
	return cp
}

// Ancestors returns the ancestor references, nearest first.
func (m Metadata) Ancestors() []string {
	return append([]string(nil), m.ancestors...)
}

// ChildCount returns the number of primary children.
func (m Metadata) ChildCount() int { return m.childCount }

// Owner returns the owning authority.
func (m Metadata) Owner() string { return m.ownerID }

// FetchOptions controls which metadata sections the repository returns.
// Fetching less is a deliberate cost control: the cascade tracker only
// needs paths and ancestry, while full indexing needs everything.
type FetchOptions struct {
	Properties bool
	Aspects    bool
	Paths      bool
	Ancestors  bool
	Owner      bool
}

// FullFetch returns options selecting every metadata section.
func FullFetch() FetchOptions {
	return FetchOptions{
		Properties: true,
		Aspects:    true,
		Paths:      true,
		Ancestors:  true,
		Owner:      true,
	}
}

// CascadeFetch returns the minimal options needed to repair derived path
// data: paths and ancestry only.
func CascadeFetch() FetchOptions {
	return FetchOptions{Paths: true, Ancestors: true}
}
