package train

import "mocasa/internal/params"

// Command is a message from the coordinator to a chain worker.
type Command interface {
	isCommand()
}

// TakeSamples asks for N recorded sweeps and a parameter re-estimate.
type TakeSamples struct {
	N int
}

// SetParams replaces the chain's parameters. The chain discards its
// latent state and burns in again. No response is sent.
type SetParams struct {
	Params *params.Params
}

// Shutdown makes the worker return.
type Shutdown struct{}

func (TakeSamples) isCommand() {}
func (SetParams) isCommand()   {}
func (Shutdown) isCommand()    {}

// Sampled is a chain's answer to TakeSamples. Err is set when no estimate
// could be computed; Params may still be invalid.
type Sampled struct {
	Worker int
	Params *params.Params
	Err    error
}

func (s Sampled) WorkerID() int { return s.Worker }

// Valid reports whether the estimate can be aggregated.
func (s Sampled) Valid() bool {
	return s.Err == nil && s.Params != nil && s.Params.IsValid()
}
