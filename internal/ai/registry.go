package ai

import "fmt"

// Registry resuelve agentes por Kind. Se arma una vez al arrancar y luego
// sólo se lee.
type Registry struct {
	agents map[Kind]Agent
}

func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[Kind]Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.Kind()] = a
	}
	return r
}

// NewDefaultRegistry registra los cuatro agentes sobre el mismo modelo.
func NewDefaultRegistry(llm LLM, p Pricing) *Registry {
	return NewRegistry(
		NewPersonaAgent(llm, p),
		NewStrategyAgent(llm, p),
		NewAssetAgent(llm, p),
		NewChatAgent(llm, p),
	)
}

func (r *Registry) Generator(k Kind) (Generator, error) {
	g, ok := r.agents[k].(Generator)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, k)
	}
	return g, nil
}

func (r *Registry) Streamer(k Kind) (Streamer, error) {
	s, ok := r.agents[k].(Streamer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, k)
	}
	return s, nil
}
