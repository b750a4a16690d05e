// Package vm implements the Bali Virtual Machine: a stack-based interpreter
// that executes bytecode procedures compiled from documents stored in a
// content-addressed repository.
//
// The machine is single-threaded and cooperative. One Processor executes
// one task at a time by fetching the instruction at the current frame's
// next address, dispatching it through a 32-slot handler table, and billing
// one unit of gas per instruction. Execution stops at two kinds of
// suspension point, and at both the complete task state serializes to a
// document from which any processor can resume it:
//
//   - the gas balance reaches zero, leaving the status Active and
//     publishing a $suspension event carrying the exported task, or
//   - a LOAD MESSAGE instruction finds its queue empty, setting the status
//     to Waiting and checkpointing the task onto the well-known wait queue.
//
// A task whose current frame runs off the end of its bytecode while still
// Active is suspended the same way as one that ran out of gas.
//
// A task leaves the Active state for good when HANDLE RESULT returns off
// the bottom frame or an exception unwinds past it, at which point a
// $completion event is published with the result or exception attached.
package vm

import (
	"errors"
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/bali-nebula/bvm/pkg/elements"
	"github.com/bali-nebula/bvm/pkg/instruction"
	"github.com/bali-nebula/bvm/pkg/intrinsics"
	"github.com/bali-nebula/bvm/pkg/repository"
)

// Event field names and types published on task termination.
const (
	keyEventType   = elements.Symbol("eventType")
	keyTaskContext = elements.Symbol("taskContext")

	// EventCompletion carries the identity, final accounting, and result or
	// exception of a task that reached the Done status.
	EventCompletion = elements.Symbol("completion")

	// EventSuspension carries the full serialized context of a task that
	// ran out of gas (or off the end of its bytecode) while still Active.
	EventSuspension = elements.Symbol("suspension")
)

// Processor drives the fetch, decode, and dispatch cycle for one task.
type Processor struct {
	task       *TaskContext
	repository repository.Repository
	intrinsics intrinsics.Table
	tracer     *Tracer
	logger     log.Logger

	// fetched is the address of the instruction being dispatched, kept so
	// a waiting LOAD MESSAGE can rewind the post-incremented next address.
	fetched int
}

// NewProcessor creates a processor that executes the task against the given
// repository and intrinsic table.
func NewProcessor(repo repository.Repository, table intrinsics.Table, task *TaskContext) *Processor {
	return &Processor{
		task:       task,
		repository: repo,
		intrinsics: table,
		logger:     log.New("pkg", "vm", "task", task.Tag().Format()),
	}
}

// Task exposes the task being executed.
func (p *Processor) Task() *TaskContext { return p.task }

// SetTracer attaches a per-instruction tracer. A nil tracer disables
// tracing.
func (p *Processor) SetTracer(tracer *Tracer) { p.tracer = tracer }

// runnable reports whether another instruction can be fetched: the task is
// Active, gas remains, and the next address is inside the bytecode.
func (p *Processor) runnable() bool {
	t := p.task
	if t.status != Active || t.balance == 0 {
		return false
	}
	frame := t.current()
	return frame.address >= 1 && frame.address <= len(frame.bytecode)
}

// Step fetches, decodes, and executes exactly one instruction, then bills
// one unit of gas and one clock cycle. A fault raised by the instruction is
// converted into an exception unwind rather than returned, including the
// $repositoryFailure and intrinsic failures raised by external collaborators;
// only processor level failures (no task, a task that has already
// terminated, a fetch outside the bytecode) surface as errors.
func (p *Processor) Step() error {
	if p.task == nil {
		return ErrNoTask
	}
	t := p.task
	if t.status == Done {
		return fmt.Errorf("vm: the task has already terminated")
	}
	frame := t.current()
	address := frame.address
	if address < 1 || address > len(frame.bytecode) {
		return fmt.Errorf("vm: next address %d is outside the bytecode [1..%d]",
			address, len(frame.bytecode))
	}
	word := frame.bytecode[address-1]
	p.fetched = address

	// Post-increment discipline: the frame is advanced before dispatch and
	// branching handlers overwrite the next address with their target.
	frame.address = address + 1

	if p.tracer != nil {
		p.tracer.Instruction(t, address, word)
	}
	err := p.execute(word)

	// The faulting instruction is billed like any other.
	if t.balance > 0 {
		t.balance--
	}
	t.cycles++

	if err != nil {
		var f *fault
		if errors.As(err, &f) {
			p.logger.Warn("Instruction raised an exception",
				"address", fmt.Sprintf("[%03X]", address),
				"instruction", word.Mnemonic(),
				"exception", f.exception.Format())
			return p.unwind(f.exception)
		}
		return err
	}
	return nil
}

// execute validates the fetched word and dispatches it to its handler.
func (p *Processor) execute(word instruction.Word) error {
	if !word.IsValid() {
		return raise(InvalidBytecode)
	}
	handle := dispatchTable[int(word.Operation())<<2|int(word.Modifier())]
	if handle == nil {
		return raise(InvalidBytecode)
	}
	return handle(p, int(word.Operand()))
}

// unwind transfers control to the nearest installed exception handler, or
// terminates the task when none remains. Handlers are one-shot: the chosen
// handler is consumed, the exception is left on the component stack for the
// handler code to examine, and unwound frames abandon their own handlers.
func (p *Processor) unwind(exception elements.Value) error {
	t := p.task
	for t.depth() > 0 {
		if installed, ok := t.takeHandler(t.depth()); ok {
			t.pushComponent(exception)
			t.current().address = installed.address
			return nil
		}
		t.popProcedure()
	}
	t.exception = exception
	t.status = Done
	return nil
}

// Run executes instructions until the task is no longer runnable, then
// routes the task by its final status: a still Active task is checkpointed
// with a $suspension event, a Waiting task is enqueued on the well-known
// wait queue, and a Done task publishes its $completion event.
func (p *Processor) Run() error {
	if p.task == nil {
		return ErrNoTask
	}
	// A waiting task handed to a processor is being resumed: the rewound
	// LOAD MESSAGE instruction re-attempts its receive.
	if p.task.status == Waiting {
		p.task.status = Active
	}
	for p.runnable() {
		if err := p.Step(); err != nil {
			return err
		}
	}
	t := p.task
	switch t.status {
	case Active:
		p.logger.Info("Task suspended", "balance", t.balance, "cycles", t.cycles)
		event := elements.NewCatalog()
		event.SetValue(keyEventType, EventSuspension)
		event.SetValue(keyTaskTag, t.tag)
		event.SetValue(keyTaskContext, t.Export())
		return p.repository.PublishEvent(event)

	case Waiting:
		p.logger.Info("Task waiting on a message", "cycles", t.cycles)
		return p.repository.QueueMessage(repository.WaitQueue, t.Export())

	default:
		p.logger.Info("Task completed", "balance", t.balance, "cycles", t.cycles)
		event := elements.NewCatalog()
		event.SetValue(keyEventType, EventCompletion)
		event.SetValue(keyTaskTag, t.tag)
		event.SetValue(keyAccountTag, t.account)
		event.SetValue(keyAccountBalance, elements.NewNumber(float64(t.balance)))
		event.SetValue(keyClockCycles, elements.NewNumber(float64(t.cycles)))
		if t.exception != nil {
			event.SetValue(keyException, t.exception)
		} else {
			event.SetValue(keyResult, t.result)
		}
		return p.repository.PublishEvent(event)
	}
}
