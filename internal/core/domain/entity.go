package domain

// HostKind classifies a host.
type HostKind string

const (
	HostGeneric        HostKind = "" // default, assumed plaintext data
	HostDevice         HostKind = "Device"
	HostMobile         HostKind = "Mobile"
	HostRemote         HostKind = "Remote"
	HostBrowser        HostKind = "Browser"
	HostAdministrative HostKind = "Admin"
)

// ConnectionKind classifies the data carried by a connection or service.
type ConnectionKind string

const (
	ConnectionUnknown        ConnectionKind = "" // default, assumed plaintext data
	ConnectionEncrypted      ConnectionKind = "Encrypted"
	ConnectionAdministrative ConnectionKind = "Admin"
	ConnectionLogical        ConnectionKind = "Logical" // only a logical connection
)

// ExternalActivity is the allowed level of undeclared traffic for an entity.
// The levels are ordered.
type ExternalActivity int

const (
	// ActivityBanned allows no undeclared activity.
	ActivityBanned ExternalActivity = iota
	// ActivityPassive tolerates probing but no replies.
	ActivityPassive
	// ActivityOpen tolerates external use of open services.
	ActivityOpen
	// ActivityUnlimited tolerates any activity, including client connections.
	ActivityUnlimited
)

func (a ExternalActivity) String() string {
	switch a {
	case ActivityBanned:
		return "Banned"
	case ActivityPassive:
		return "Passive"
	case ActivityOpen:
		return "Open"
	case ActivityUnlimited:
		return "Unlimited"
	}
	return "Unknown"
}

// ParseExternalActivity resolves an activity level from its name.
func ParseExternalActivity(value string) (ExternalActivity, bool) {
	for a := ActivityBanned; a <= ActivityUnlimited; a++ {
		if a.String() == value {
			return a, true
		}
	}
	return ActivityBanned, false
}

// Entity is the state shared by hosts, services, connections and
// the system itself.
type Entity struct {
	id         int
	Status     Status
	Properties map[PropertyKey]PropertyValue
}

func newEntity(id int) Entity {
	return Entity{
		id:         id,
		Status:     StatusUnexpected,
		Properties: make(map[PropertyKey]PropertyValue),
	}
}

// ID is the model-unique entity identifier.
func (e *Entity) ID() int { return e.id }

// Base gives access to the shared entity state.
func (e *Entity) Base() *Entity { return e }

func (e *Entity) sealedEntity() {}

// SetProperty stores a property value, replacing any old value.
func (e *Entity) SetProperty(key PropertyKey, value PropertyValue) {
	e.Properties[key] = value
}

// UpdateProperty merges a property value into the old one.
func (e *Entity) UpdateProperty(key PropertyKey, value PropertyValue) PropertyValue {
	return UpdateProperty(e.Properties, key, value)
}

// ExpectedVerdict is the verdict of the entity being expected, if set.
func (e *Entity) ExpectedVerdict() (Verdict, bool) {
	if v, ok := e.Properties[KeyExpected].(VerdictValue); ok {
		return v.Verdict, true
	}
	return VerdictIncon, false
}

// ExpectedOrIncon is the expectation verdict, inconclusive when unset.
func (e *Entity) ExpectedOrIncon() Verdict {
	v, _ := e.ExpectedVerdict()
	return v
}

// resetProperties drops accumulated properties, keeping model properties
// reset to inconclusive.
func (e *Entity) resetProperties() {
	for k, v := range e.Properties {
		nv, keep := ResetProperty(k, v)
		if keep {
			e.Properties[k] = nv
		} else {
			delete(e.Properties, k)
		}
	}
}

// ModelEntity is a host, service, connection or the system itself.
// The set is closed.
type ModelEntity interface {
	ID() int
	LongName() string
	Base() *Entity
	// SetSeen records the entity as backed by evidence now, updating the
	// expectation verdict. Changed entities are appended to changes.
	SetSeen(changes *[]ModelEntity) bool
	// IsRelevant tells if the entity is not a placeholder or external.
	IsRelevant() bool
	// CombinedVerdict aggregates the verdict of this entity and its children.
	CombinedVerdict(cache VerdictCache) Verdict

	sealedEntity()
}

// Addressable is a host or a service.
type Addressable interface {
	ModelEntity
	// Node gives access to the shared network node state.
	Node() *NetworkNode
	// ParentHost is the host this entity belongs to, itself for hosts.
	ParentHost() *Host
	// System is the system this entity belongs to.
	System() *System
	// AllAddresses are the concrete addresses of this entity and its
	// children, with wildcard service addresses expanded over the
	// parent host addresses.
	AllAddresses() []Address
	IsMulticast() bool
	IsGlobal() bool
}

// VerdictCache holds aggregated verdicts by entity id during one rollup.
type VerdictCache map[int]Verdict

// setSeenNow implements the seen-now status transition: an expected
// entity passes and an unexpected one fails. Repeats and other statuses
// change nothing.
func setSeenNow(e ModelEntity, changes *[]ModelEntity) bool {
	b := e.Base()
	v, ok := b.ExpectedVerdict()
	switch b.Status {
	case StatusExpected:
		if ok && v == VerdictPass {
			return false // already ok
		}
		v = VerdictPass
	case StatusUnexpected:
		if ok && v == VerdictFail {
			return false // already not ok
		}
		v = VerdictFail
	default:
		return false // does not matter if seen or not
	}
	b.SetProperty(KeyExpected, VerdictValue{Verdict: v})
	if changes != nil {
		*changes = append(*changes, e)
	}
	return true
}

// combinedVerdict aggregates child verdicts and property verdicts, with
// the expectation verdict vetoing a pass.
func combinedVerdict(e ModelEntity, children []ModelEntity, cache VerdictCache) Verdict {
	b := e.Base()
	if v, ok := cache[b.id]; ok {
		return v
	}
	verdicts := make([]Verdict, 0, len(children)+1)
	for _, c := range children {
		verdicts = append(verdicts, c.CombinedVerdict(cache))
	}
	for _, p := range b.Properties {
		if v, ok := p.(VerdictValue); ok {
			verdicts = append(verdicts, v.Verdict)
		}
	}
	v := AggregateVerdict(verdicts...)
	if v == VerdictPass {
		v = b.ExpectedOrIncon() // expected has veto
	}
	cache[b.id] = v
	return v
}

// StatusString formats the status with the expectation verdict, if any.
func StatusString(e ModelEntity) string {
	b := e.Base()
	s := string(b.Status)
	if v, ok := b.ExpectedVerdict(); ok {
		s += "/" + string(v)
	}
	return s
}
