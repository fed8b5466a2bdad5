// Package ai contains the generation-backend adapters: a streaming text
// capability with an explicit fallback chain, a one-shot text capability used
// for prompt enhancement, and the image-generation capability with typed
// failure classification.
package ai

// ModelSelector identifies which model a request should run on. It is a
// closed tagged variant: either a NamedModel (a plain identifier on the
// default provider) or a CompositeModel (a display name plus an ordered
// provider chain). Dispatch on it with a type switch over the two concrete
// types; no other implementations exist.
type ModelSelector interface {
	// Label returns the human-readable model name for logs and UI.
	Label() string

	sealed()
}

// NamedModel selects a concrete model identifier on the primary provider.
type NamedModel struct {
	ID string
}

// Label implements ModelSelector.
func (m NamedModel) Label() string { return m.ID }

func (NamedModel) sealed() {}

// CompositeModel selects a model resolved through an ordered chain of
// provider names; the first provider that accepts the request wins.
type CompositeModel struct {
	Name      string
	Providers []string
}

// Label implements ModelSelector.
func (m CompositeModel) Label() string { return m.Name }

func (CompositeModel) sealed() {}
