package vm

import (
	"errors"

	"github.com/bali-nebula/bvm/pkg/elements"
	"github.com/bali-nebula/bvm/pkg/instruction"
	"github.com/bali-nebula/bvm/pkg/intrinsics"
)

// handlerFn executes one decoded instruction against the processor state.
// The dispatcher has already advanced the current frame past the
// instruction, so a handler that branches overwrites the next address with
// its target verbatim. A returned fault raises an exception in the task;
// any other error aborts the processor.
type handlerFn func(p *Processor, operand int) error

// dispatchTable maps (operation << 2) | modifier to its handler. Undefined
// slots hold nil and fetch as bytecode faults.
var dispatchTable = [32]handlerFn{
	int(instruction.JUMP)<<2 | int(instruction.OnAny):   jumpAny,
	int(instruction.JUMP)<<2 | int(instruction.OnNone):  jumpOnNone,
	int(instruction.JUMP)<<2 | int(instruction.OnTrue):  jumpOnTrue,
	int(instruction.JUMP)<<2 | int(instruction.OnFalse): jumpOnFalse,

	int(instruction.PUSH)<<2 | int(instruction.Handler): pushHandler,
	int(instruction.PUSH)<<2 | int(instruction.Element): pushElement,
	int(instruction.PUSH)<<2 | int(instruction.Code):    pushCode,

	int(instruction.POP)<<2 | int(instruction.Handler):   popHandler,
	int(instruction.POP)<<2 | int(instruction.Component): popComponent,

	int(instruction.LOAD)<<2 | int(instruction.Variable):  loadVariable,
	int(instruction.LOAD)<<2 | int(instruction.Parameter): loadParameter,
	int(instruction.LOAD)<<2 | int(instruction.Document):  loadDocument,
	int(instruction.LOAD)<<2 | int(instruction.Message):   loadMessage,

	int(instruction.STORE)<<2 | int(instruction.Variable): storeVariable,
	int(instruction.STORE)<<2 | int(instruction.Draft):    storeDraft,
	int(instruction.STORE)<<2 | int(instruction.Document): storeDocument,
	int(instruction.STORE)<<2 | int(instruction.Message):  storeMessage,

	int(instruction.INVOKE)<<2 | 0: invokeWith(0),
	int(instruction.INVOKE)<<2 | 1: invokeWith(1),
	int(instruction.INVOKE)<<2 | 2: invokeWith(2),
	int(instruction.INVOKE)<<2 | 3: invokeWith(3),

	int(instruction.EXECUTE)<<2 | int(instruction.Bare):                   executeWith(false, false),
	int(instruction.EXECUTE)<<2 | int(instruction.WithParameters):         executeWith(false, true),
	int(instruction.EXECUTE)<<2 | int(instruction.OnTarget):               executeWith(true, false),
	int(instruction.EXECUTE)<<2 | int(instruction.OnTargetWithParameters): executeWith(true, true),

	int(instruction.HANDLE)<<2 | int(instruction.Exception): handleException,
	int(instruction.HANDLE)<<2 | int(instruction.Result):    handleResult,
}

// branch validates a jump target against the current frame and transfers
// control to it.
func branch(p *Processor, operand int) error {
	frame := p.task.current()
	if operand > len(frame.bytecode) {
		return raise(InvalidBytecode)
	}
	frame.address = operand
	return nil
}

// jumpAny branches unconditionally. Operand zero is the SKIP instruction
// and does nothing.
func jumpAny(p *Processor, operand int) error {
	if operand == 0 {
		return nil
	}
	return branch(p, operand)
}

// jumpOn pops the condition and branches when it equals the template.
func jumpOn(p *Processor, operand int, template elements.Template) error {
	condition, err := p.task.popComponent()
	if err != nil {
		return err
	}
	if !elements.Equals(condition, template) {
		return nil
	}
	return branch(p, operand)
}

func jumpOnNone(p *Processor, operand int) error {
	return jumpOn(p, operand, elements.None)
}

func jumpOnTrue(p *Processor, operand int) error {
	return jumpOn(p, operand, elements.True)
}

func jumpOnFalse(p *Processor, operand int) error {
	return jumpOn(p, operand, elements.False)
}

// pushHandler installs an exception handler address for the current frame.
func pushHandler(p *Processor, operand int) error {
	if operand > len(p.task.current().bytecode) {
		return raise(InvalidBytecode)
	}
	p.task.pushHandler(operand)
	return nil
}

// pushElement pushes the indexed literal onto the component stack.
func pushElement(p *Processor, operand int) error {
	literal := p.task.current().literal(operand)
	if literal == nil {
		return raise(InvalidBytecode)
	}
	p.task.pushComponent(literal)
	return nil
}

// pushCode pushes the indexed code literal, which keeps its parsed form and
// is never interpreted by the processor.
func pushCode(p *Processor, operand int) error {
	literal := p.task.current().literal(operand)
	if literal == nil {
		return raise(InvalidBytecode)
	}
	if _, ok := literal.(elements.Code); !ok {
		return raise(InvalidBytecode)
	}
	p.task.pushComponent(literal)
	return nil
}

func popHandler(p *Processor, operand int) error {
	return p.task.popHandler()
}

func popComponent(p *Processor, operand int) error {
	_, err := p.task.popComponent()
	return err
}

func loadVariable(p *Processor, operand int) error {
	value := p.task.current().variable(operand)
	if value == nil {
		return raise(InvalidBytecode)
	}
	p.task.pushComponent(value)
	return nil
}

func loadParameter(p *Processor, operand int) error {
	value := p.task.current().parameter(operand)
	if value == nil {
		return raise(InvalidBytecode)
	}
	p.task.pushComponent(value)
	return nil
}

// loadDocument treats the indexed variable as a citation and fetches the
// cited content: the draft when the citation carries no digest, otherwise
// the committed document.
func loadDocument(p *Processor, operand int) error {
	value := p.task.current().variable(operand)
	if value == nil {
		return raise(InvalidBytecode)
	}
	citation, ok := value.(*elements.Reference)
	if !ok {
		return raise(NotAReference)
	}
	var document elements.Value
	var err error
	if len(citation.Digest) == 0 {
		document, err = p.repository.RetrieveDraft(citation.Tag, citation.Version)
	} else {
		document, err = p.repository.RetrieveDocument(citation)
	}
	if err != nil {
		return raisedBy(RepositoryFailure, err)
	}
	p.task.pushComponent(document)
	return nil
}

// loadMessage attempts a non-blocking receive from the queue named by the
// indexed variable. An empty queue suspends the task: the status becomes
// Waiting and the next address is rewound so the instruction is re-attempted
// on resume.
func loadMessage(p *Processor, operand int) error {
	queue, err := queueTag(p, operand)
	if err != nil {
		return err
	}
	message, err := p.repository.ReceiveMessage(queue)
	if err != nil {
		return raisedBy(RepositoryFailure, err)
	}
	if message == nil {
		p.task.status = Waiting
		p.task.current().address = p.fetched
		return nil
	}
	p.task.pushComponent(message)
	return nil
}

func storeVariable(p *Processor, operand int) error {
	value, err := p.task.popComponent()
	if err != nil {
		return err
	}
	if !p.task.current().setVariable(operand, value) {
		return raise(InvalidBytecode)
	}
	return nil
}

// storeDraft pops a document and saves it as the draft cited by the indexed
// variable.
func storeDraft(p *Processor, operand int) error {
	document, err := p.task.popComponent()
	if err != nil {
		return err
	}
	citation, err := citedVariable(p, operand)
	if err != nil {
		return err
	}
	if err := p.repository.SaveDraft(citation.Tag, citation.Version, document); err != nil {
		return raisedBy(RepositoryFailure, err)
	}
	return nil
}

// storeDocument pops a document, commits it, and replaces the indexed
// variable with the content-addressed citation of the committed version.
func storeDocument(p *Processor, operand int) error {
	document, err := p.task.popComponent()
	if err != nil {
		return err
	}
	citation, err := citedVariable(p, operand)
	if err != nil {
		return err
	}
	committed, err := p.repository.CommitDocument(citation.Tag, citation.Version, document)
	if err != nil {
		return raisedBy(RepositoryFailure, err)
	}
	p.task.current().setVariable(operand, committed)
	return nil
}

// storeMessage pops a message and enqueues it on the queue named by the
// indexed variable.
func storeMessage(p *Processor, operand int) error {
	message, err := p.task.popComponent()
	if err != nil {
		return err
	}
	queue, err := queueTag(p, operand)
	if err != nil {
		return err
	}
	if err := p.repository.QueueMessage(queue, message); err != nil {
		return raisedBy(RepositoryFailure, err)
	}
	return nil
}

// citedVariable reads the indexed variable and requires it to be a citation.
func citedVariable(p *Processor, operand int) (*elements.Reference, error) {
	value := p.task.current().variable(operand)
	if value == nil {
		return nil, raise(InvalidBytecode)
	}
	citation, ok := value.(*elements.Reference)
	if !ok {
		return nil, raise(NotAReference)
	}
	return citation, nil
}

// queueTag reads the indexed variable and resolves it to a queue identity,
// accepting either a bare tag or a citation.
func queueTag(p *Processor, operand int) (elements.Tag, error) {
	value := p.task.current().variable(operand)
	if value == nil {
		return "", raise(InvalidBytecode)
	}
	switch queue := value.(type) {
	case elements.Tag:
		return queue, nil
	case *elements.Reference:
		return queue.Tag, nil
	}
	return "", raise(NotAReference)
}

// invokeWith builds the handler for an INVOKE instruction of the given
// arity. The first pop supplies parameter 1, the second parameter 2, and
// the third parameter 3; the pop order is part of the platform contract.
func invokeWith(arity int) handlerFn {
	return func(p *Processor, operand int) error {
		arguments := make([]elements.Value, arity)
		for i := 0; i < arity; i++ {
			value, err := p.task.popComponent()
			if err != nil {
				return err
			}
			arguments[i] = value
		}
		result, err := p.intrinsics.Invoke(operand, arguments)
		if err != nil {
			var abort *intrinsics.Abort
			if errors.As(err, &abort) {
				return &fault{exception: abort.Exception, cause: err}
			}
			return raisedBy(InvalidBytecode, err)
		}
		if result == nil {
			result = elements.None
		}
		p.task.pushComponent(result)
		return nil
	}
}

// executeWith builds the handler for an EXECUTE instruction variant. The
// parameter list (for WITH PARAMETERS variants) is popped first, then the
// type reference, or the target component whose type owns the procedure.
// The new frame gets fresh variable cells and becomes the current frame
// with its next address at 1.
func executeWith(onTarget, withParameters bool) handlerFn {
	return func(p *Processor, operand int) error {
		var parameters []elements.Value
		if withParameters {
			value, err := p.task.popComponent()
			if err != nil {
				return err
			}
			list, ok := value.(*elements.List)
			if !ok {
				return raise(InvalidBytecode)
			}
			parameters = list.Items()
		}
		var target elements.Value
		var typeRef *elements.Reference
		if onTarget {
			value, err := p.task.popComponent()
			if err != nil {
				return err
			}
			target = value
			component, ok := value.(*elements.Catalog)
			if !ok {
				return raise(NotAReference)
			}
			typeRef, ok = component.GetValue(keyTypeReference).(*elements.Reference)
			if !ok {
				return raise(NotAReference)
			}
		} else {
			value, err := p.task.popComponent()
			if err != nil {
				return err
			}
			reference, ok := value.(*elements.Reference)
			if !ok {
				return raise(NotAReference)
			}
			typeRef = reference
		}
		document, err := p.repository.RetrieveDocument(typeRef)
		if err != nil {
			return raisedBy(RepositoryFailure, err)
		}
		typeDocument, ok := document.(*elements.Catalog)
		if !ok {
			return raisedBy(RepositoryFailure, errors.New("vm: type document is not a catalog"))
		}
		frame, err := NewProcedureContext(typeRef, typeDocument, operand, target, parameters)
		if err != nil {
			return raisedBy(InvalidBytecode, err)
		}
		p.task.procedures = append(p.task.procedures, frame)
		return nil
	}
}

// handleResult pops the procedure's result and returns it to the caller on
// the shared component stack. Returning from the bottom frame completes the
// task.
func handleResult(p *Processor, operand int) error {
	result, err := p.task.popComponent()
	if err != nil {
		return err
	}
	p.task.popProcedure()
	if p.task.depth() == 0 {
		p.task.result = result
		p.task.status = Done
		return nil
	}
	p.task.pushComponent(result)
	return nil
}

// handleException pops the exception and unwinds toward the nearest
// installed handler.
func handleException(p *Processor, operand int) error {
	exception, err := p.task.popComponent()
	if err != nil {
		return err
	}
	return p.unwind(exception)
}
