package vm

import (
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/bali-nebula/bvm/pkg/instruction"
)

// Tracer logs each dispatched instruction in disassembled form. It replaces
// an interactive debugger, which has no place in a virtual machine whose
// tasks suspend, migrate between hosts, and resume; the trace of a resumed
// task continues seamlessly from its checkpoint.
type Tracer struct {
	logger log.Logger
}

// NewTracer creates a tracer writing to the given logger.
func NewTracer(logger log.Logger) *Tracer {
	return &Tracer{logger: logger}
}

// Instruction records one dispatched instruction.
func (tr *Tracer) Instruction(t *TaskContext, address int, word instruction.Word) {
	tr.logger.Debug("Executing",
		"procedure", t.current().Name().Format(),
		"address", fmt.Sprintf("[%03X]", address),
		"instruction", word.Mnemonic(),
		"stack", len(t.components),
		"balance", t.balance)
}
