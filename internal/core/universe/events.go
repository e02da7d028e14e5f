package universe

// Event types published on a Universe's event bus.
const (
	EventEnumerationRegistered = "universe.enumeration.registered"
	EventArchetypeRegistered   = "universe.archetype.registered"
	EventArchetypeUnloaded     = "universe.archetype.unloaded"
	EventSealed                = "universe.sealed"
)
