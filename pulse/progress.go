// Package pulse holds the infrastructure shared by corpipe's job substrate.
package pulse

// ProgressEmitter defines the domain-agnostic interface for emitting progress
// updates during long-running operations.
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress announces that count more operations finished
	EmitProgress(count int, metadata map[string]interface{})

	// EmitError announces an error during processing
	EmitError(stage string, err error)
}

// NopEmitter discards all progress
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string)                 {}
func (NopEmitter) EmitProgress(int, map[string]interface{}) {}
func (NopEmitter) EmitError(string, error)                  {}
