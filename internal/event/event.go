package event

// Event is a single record in the Log. It is never mutated after Emit.
type Event struct {
	Seq          uint64  `json:"seq"`
	Name         string  `json:"name"`
	Data         any     `json:"data"`
	Tick         uint64  `json:"tick"`
	SourceEntity *uint64 `json:"source_entity"`
}

// Entity returns a source pointer for id, for use with Emit.
func Entity(id uint64) *uint64 {
	return &id
}
