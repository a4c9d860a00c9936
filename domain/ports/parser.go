package ports

// EventParser decodes an event document into the JSON value model: maps,
// slices, strings, numbers, booleans and nil.
type EventParser interface {
	// Parse decodes one document.
	Parse(data []byte) (any, error)
}
