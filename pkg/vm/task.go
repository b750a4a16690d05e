package vm

import (
	"fmt"

	"github.com/bali-nebula/bvm/pkg/elements"
)

// Task document field names.
const (
	keyTaskTag         = elements.Symbol("taskTag")
	keyAccountTag      = elements.Symbol("accountTag")
	keyAccountBalance  = elements.Symbol("accountBalance")
	keyProcessorStatus = elements.Symbol("processorStatus")
	keyClockCycles     = elements.Symbol("clockCycles")
	keyComponentStack  = elements.Symbol("componentStack")
	keyHandlerStack    = elements.Symbol("handlerStack")
	keyProcedureStack  = elements.Symbol("procedureStack")
	keyResult          = elements.Symbol("result")
	keyException       = elements.Symbol("exception")
	keyProcedureDepth  = elements.Symbol("procedureDepth")
	keyHandlerAddress  = elements.Symbol("handlerAddress")
)

// The processor status values.
const (
	Active  = elements.Symbol("active")
	Waiting = elements.Symbol("waiting")
	Done    = elements.Symbol("done")
)

// handler is one installed exception handler: the address control transfers
// to, tagged with the depth of the procedure stack when it was pushed.
// Handlers are one-shot; the depth lets unwinding discard the handlers that
// belong to an abandoned frame without consuming a caller's handlers.
type handler struct {
	depth   int
	address int
}

// TaskContext owns all mutable state of one executing task. The component
// and handler stacks are shared across the whole procedure call stack; a
// procedure call does not get stacks of its own.
type TaskContext struct {
	tag        elements.Tag
	account    elements.Tag
	balance    uint64 // gas remaining before a mandatory checkpoint
	status     elements.Symbol
	cycles     uint64
	components []elements.Value
	handlers   []handler
	procedures []*ProcedureContext
	result     elements.Value
	exception  elements.Value
}

// NewTask creates a task for an account with an initial gas balance and the
// compiled entry-point procedure as its bottom frame.
func NewTask(account elements.Tag, balance uint64, entry *ProcedureContext) *TaskContext {
	return &TaskContext{
		tag:        elements.NewTag(),
		account:    account,
		balance:    balance,
		status:     Active,
		procedures: []*ProcedureContext{entry},
	}
}

// Tag returns the unique identity of the task.
func (t *TaskContext) Tag() elements.Tag { return t.tag }

// Account returns the identity of the account the task bills to.
func (t *TaskContext) Account() elements.Tag { return t.account }

// Balance returns the remaining gas balance.
func (t *TaskContext) Balance() uint64 { return t.balance }

// Cycles returns the number of instructions executed so far.
func (t *TaskContext) Cycles() uint64 { return t.cycles }

// Status returns the processor status, one of Active, Waiting, or Done.
func (t *TaskContext) Status() elements.Symbol { return t.status }

// Result returns the final result, which is only set once the status is
// Done and the task completed normally.
func (t *TaskContext) Result() elements.Value { return t.result }

// Exception returns the unhandled exception, which is only set once the
// status is Done and the task terminated abnormally.
func (t *TaskContext) Exception() elements.Value { return t.exception }

// current returns the top frame of the procedure stack, which is non-empty
// whenever the status is not Done.
func (t *TaskContext) current() *ProcedureContext {
	return t.procedures[len(t.procedures)-1]
}

// depth returns the current procedure stack depth.
func (t *TaskContext) depth() int { return len(t.procedures) }

func (t *TaskContext) pushComponent(value elements.Value) {
	t.components = append(t.components, value)
}

func (t *TaskContext) popComponent() (elements.Value, error) {
	if len(t.components) == 0 {
		return nil, raise(StackUnderflow)
	}
	value := t.components[len(t.components)-1]
	t.components = t.components[:len(t.components)-1]
	return value, nil
}

func (t *TaskContext) pushHandler(address int) {
	t.handlers = append(t.handlers, handler{depth: t.depth(), address: address})
}

func (t *TaskContext) popHandler() error {
	if len(t.handlers) == 0 {
		return raise(StackUnderflow)
	}
	t.handlers = t.handlers[:len(t.handlers)-1]
	return nil
}

// takeHandler pops and returns the top handler if one is installed at the
// given procedure depth.
func (t *TaskContext) takeHandler(depth int) (handler, bool) {
	if len(t.handlers) == 0 {
		return handler{}, false
	}
	top := t.handlers[len(t.handlers)-1]
	if top.depth != depth {
		return handler{}, false
	}
	t.handlers = t.handlers[:len(t.handlers)-1]
	return top, true
}

// discardHandlers drops every handler installed at an abandoned frame depth
// or at any greater (callee) depth.
func (t *TaskContext) discardHandlers(depth int) {
	for len(t.handlers) > 0 && t.handlers[len(t.handlers)-1].depth >= depth {
		t.handlers = t.handlers[:len(t.handlers)-1]
	}
}

// popProcedure abandons the current frame along with its handlers.
func (t *TaskContext) popProcedure() {
	t.discardHandlers(t.depth())
	t.procedures = t.procedures[:len(t.procedures)-1]
}

// Export serializes the complete task state into its document form. The
// serialization is lossless: importing the document yields an execution
// continuation indistinguishable from the original.
func (t *TaskContext) Export() *elements.Catalog {
	document := elements.NewCatalog()
	document.SetValue(keyTaskTag, t.tag)
	document.SetValue(keyAccountTag, t.account)
	document.SetValue(keyAccountBalance, elements.NewNumber(float64(t.balance)))
	document.SetValue(keyProcessorStatus, t.status)
	document.SetValue(keyClockCycles, elements.NewNumber(float64(t.cycles)))
	document.SetValue(keyComponentStack, elements.NewList(t.components...))
	handlers := elements.NewList()
	for _, h := range t.handlers {
		installed := elements.NewCatalog()
		installed.SetValue(keyProcedureDepth, elements.NewNumber(float64(h.depth)))
		installed.SetValue(keyHandlerAddress, elements.NewNumber(float64(h.address)))
		handlers.Add(installed)
	}
	document.SetValue(keyHandlerStack, handlers)
	procedures := elements.NewList()
	for _, frame := range t.procedures {
		procedures.Add(frame.Export())
	}
	document.SetValue(keyProcedureStack, procedures)
	if t.result != nil {
		document.SetValue(keyResult, t.result)
	}
	if t.exception != nil {
		document.SetValue(keyException, t.exception)
	}
	return document
}

// ImportTask rebuilds a task from its document form.
func ImportTask(document *elements.Catalog) (*TaskContext, error) {
	tag, ok := document.GetValue(keyTaskTag).(elements.Tag)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no task tag")
	}
	account, ok := document.GetValue(keyAccountTag).(elements.Tag)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no account tag")
	}
	balance, ok := document.GetValue(keyAccountBalance).(elements.Number)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no account balance")
	}
	status, ok := document.GetValue(keyProcessorStatus).(elements.Symbol)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no processor status")
	}
	cycles, ok := document.GetValue(keyClockCycles).(elements.Number)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no clock cycles")
	}
	components, ok := document.GetValue(keyComponentStack).(*elements.List)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no component stack")
	}
	installed, ok := document.GetValue(keyHandlerStack).(*elements.List)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no handler stack")
	}
	frames, ok := document.GetValue(keyProcedureStack).(*elements.List)
	if !ok {
		return nil, fmt.Errorf("vm: task document has no procedure stack")
	}
	task := &TaskContext{
		tag:        tag,
		account:    account,
		balance:    uint64(balance.AsInteger()),
		status:     status,
		cycles:     uint64(cycles.AsInteger()),
		components: append([]elements.Value{}, components.Items()...),
		result:     document.GetValue(keyResult),
		exception:  document.GetValue(keyException),
	}
	for _, value := range installed.Items() {
		entry, ok := value.(*elements.Catalog)
		if !ok {
			return nil, fmt.Errorf("vm: malformed handler stack entry")
		}
		depth, okDepth := entry.GetValue(keyProcedureDepth).(elements.Number)
		address, okAddress := entry.GetValue(keyHandlerAddress).(elements.Number)
		if !okDepth || !okAddress {
			return nil, fmt.Errorf("vm: malformed handler stack entry")
		}
		task.handlers = append(task.handlers, handler{
			depth:   depth.AsInteger(),
			address: address.AsInteger(),
		})
	}
	for _, value := range frames.Items() {
		frame, ok := value.(*elements.Catalog)
		if !ok {
			return nil, fmt.Errorf("vm: malformed procedure stack entry")
		}
		context, err := ImportProcedureContext(frame)
		if err != nil {
			return nil, err
		}
		task.procedures = append(task.procedures, context)
	}
	return task, nil
}
