package vm

import (
	"fmt"
	"testing"

	"github.com/bali-nebula/bvm/pkg/elements"
	"github.com/bali-nebula/bvm/pkg/instruction"
	"github.com/bali-nebula/bvm/pkg/intrinsics"
	"github.com/bali-nebula/bvm/pkg/repository"
)

// testProcedure describes one procedure of a synthetic type document.
type testProcedure struct {
	name      elements.Symbol
	bytecode  []instruction.Word
	variables int
}

// buildTypeDocument assembles a type document the way the external compiler
// would: shared literals plus per-procedure definitions.
func buildTypeDocument(literals *elements.List, procedures []testProcedure) *elements.Catalog {
	document := elements.NewCatalog()
	document.SetValue(keyLiteralValues, literals)
	definitions := elements.NewCatalog()
	for _, procedure := range procedures {
		definition := elements.NewCatalog()
		definition.SetValue(keyBytecodeInstructions,
			elements.Binary(instruction.ToBytes(procedure.bytecode)))
		variables := elements.NewList()
		for i := 0; i < procedure.variables; i++ {
			variables.Add(elements.Symbol(fmt.Sprintf("v%d", i+1)))
		}
		definition.SetValue(keyVariableValues, variables)
		definition.SetValue(keyParameterValues, elements.NewList())
		definitions.SetValue(procedure.name, definition)
	}
	document.SetValue(keyProcedureDefinitions, definitions)
	return document
}

// startTask commits a type document and builds a task executing its first
// procedure with the given gas balance.
func startTask(t *testing.T, repo *repository.Local, document *elements.Catalog,
	balance uint64) (*TaskContext, *Processor) {
	t.Helper()
	citation, err := repo.CommitDocument(elements.NewTag(), elements.Version{1}, document)
	if err != nil {
		t.Fatalf("committing type document: %v", err)
	}
	entry, err := NewProcedureContext(citation, document, 1, nil, nil)
	if err != nil {
		t.Fatalf("building entry frame: %v", err)
	}
	task := NewTask(elements.NewTag(), balance, entry)
	return task, NewProcessor(repo, intrinsics.Standard(), task)
}

func singleProcedure(literals *elements.List, variables int, bytecode ...instruction.Word) *elements.Catalog {
	return buildTypeDocument(literals, []testProcedure{
		{name: "test", bytecode: bytecode, variables: variables},
	})
}

// lastEvent returns the most recently published event.
func lastEvent(t *testing.T, repo *repository.Local) *elements.Catalog {
	t.Helper()
	events, err := repo.Events()
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("no events were published")
	}
	return events[len(events)-1]
}

// Scenario S1: the SKIP instruction advances the address and bills gas, and
// running off the end of the bytecode suspends the task.
func TestProcessorSkipInstruction(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo,
		singleProcedure(elements.NewList(), 0, instruction.Skip), 10)

	if err := processor.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if address := task.current().NextAddress(); address != 2 {
		t.Errorf("expected next address 2, got %d", address)
	}
	if task.Balance() != 9 {
		t.Errorf("expected balance 9, got %d", task.Balance())
	}
	if task.Cycles() != 1 {
		t.Errorf("expected 1 clock cycle, got %d", task.Cycles())
	}
	if task.Status() != Active {
		t.Errorf("expected status $active, got %s", task.Status().Format())
	}

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Active {
		t.Errorf("expected the suspended task to stay $active, got %s", task.Status().Format())
	}
	event := lastEvent(t, repo)
	if eventType := event.GetValue(keyEventType); !elements.Equals(eventType, EventSuspension) {
		t.Errorf("expected a $suspension event, got %s", eventType.Format())
	}
	if event.GetValue(keyTaskContext) == nil {
		t.Errorf("the suspension event carries no task context")
	}
}

// Scenario S2: an unconditional jump transfers control without touching the
// skipped (invalid) word.
func TestProcessorUnconditionalJump(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(elements.NewList(), 0,
		instruction.Encode(instruction.JUMP, instruction.OnAny, 3),
		instruction.Word(0xFFFF),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 10)
	expected := elements.Text("unscathed")
	task.pushComponent(expected)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	if !elements.Equals(task.Result(), expected) {
		t.Errorf("expected result %s, got %v", expected.Format(), task.Result())
	}
	if task.Exception() != nil {
		t.Errorf("unexpected exception %s", task.Exception().Format())
	}
	if task.Cycles() != 2 {
		t.Errorf("expected 2 clock cycles, got %d", task.Cycles())
	}
}

// Scenario S3: PUSH ELEMENT reads the literal table and HANDLE RESULT off
// the bottom frame completes the task.
func TestProcessorPushElementResult(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(elements.Symbol("hello")), 0,
		instruction.Encode(instruction.PUSH, instruction.Element, 1),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	if !elements.Equals(task.Result(), elements.Symbol("hello")) {
		t.Errorf("expected result $hello, got %v", task.Result())
	}
	event := lastEvent(t, repo)
	if eventType := event.GetValue(keyEventType); !elements.Equals(eventType, EventCompletion) {
		t.Errorf("expected a $completion event, got %s", eventType.Format())
	}
	if !elements.Equals(event.GetValue(keyResult), elements.Symbol("hello")) {
		t.Errorf("the completion event carries the wrong result")
	}
}

// Scenario S4: a thrown exception transfers control to the installed
// handler and the procedure recovers.
func TestProcessorExceptionRecovery(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(elements.Symbol("boom"), elements.Symbol("recovered")), 0,
		instruction.Encode(instruction.PUSH, instruction.Handler, 4),
		instruction.Encode(instruction.PUSH, instruction.Element, 1),
		instruction.Encode(instruction.HANDLE, instruction.Exception, 0),
		instruction.Encode(instruction.PUSH, instruction.Element, 2),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	if !elements.Equals(task.Result(), elements.Symbol("recovered")) {
		t.Errorf("expected result $recovered, got %v", task.Result())
	}
	if task.Exception() != nil {
		t.Errorf("unexpected exception %s", task.Exception().Format())
	}
}

// Scenario S5: a conditional jump on false is taken and skips the branch
// that would push the wrong result.
func TestProcessorConditionalJumpOnFalse(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(elements.Symbol("bad"), elements.Symbol("good"), elements.False), 0,
		instruction.Encode(instruction.PUSH, instruction.Element, 2),
		instruction.Encode(instruction.PUSH, instruction.Element, 3),
		instruction.Encode(instruction.JUMP, instruction.OnFalse, 5),
		instruction.Encode(instruction.PUSH, instruction.Element, 1),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !elements.Equals(task.Result(), elements.Symbol("good")) {
		t.Errorf("expected result $good, got %v", task.Result())
	}
}

// Scenario S6: LOAD MESSAGE on an empty queue rewinds the instruction,
// marks the task $waiting, and checkpoints it onto the wait queue.
func TestProcessorQueueWait(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	queue := elements.NewTag()
	task, processor := startTask(t, repo, singleProcedure(elements.NewList(), 1,
		instruction.Encode(instruction.LOAD, instruction.Message, 1),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 10)
	task.current().setVariable(1, queue)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Waiting {
		t.Fatalf("expected status $waiting, got %s", task.Status().Format())
	}
	if address := task.current().NextAddress(); address != 1 {
		t.Errorf("expected the next address rewound to 1, got %d", address)
	}

	// The checkpointed task resumes on another processor once a message
	// arrives, re-attempts the receive, and completes with the message.
	checkpoint, err := repo.ReceiveMessage(repository.WaitQueue)
	if err != nil {
		t.Fatalf("receiving the checkpoint: %v", err)
	}
	if checkpoint == nil {
		t.Fatalf("the task was not checkpointed onto the wait queue")
	}
	if err := repo.QueueMessage(queue, elements.Text("ping")); err != nil {
		t.Fatalf("queueing a message: %v", err)
	}
	resumed, err := ImportTask(checkpoint.(*elements.Catalog))
	if err != nil {
		t.Fatalf("importing the checkpoint: %v", err)
	}
	if err := NewProcessor(repo, intrinsics.Standard(), resumed).Run(); err != nil {
		t.Fatalf("resuming failed: %v", err)
	}
	if resumed.Status() != Done {
		t.Fatalf("expected the resumed task to finish, got %s", resumed.Status().Format())
	}
	if !elements.Equals(resumed.Result(), elements.Text("ping")) {
		t.Errorf("expected result \"ping\", got %v", resumed.Result())
	}
}

// Gas exhaustion is a checkpoint, not an error: the task suspends while
// still Active with its remaining work intact.
func TestProcessorGasExhaustion(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(elements.NewList(), 0,
		instruction.Skip,
		instruction.Skip,
		instruction.Skip,
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 2)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Active {
		t.Fatalf("expected status $active, got %s", task.Status().Format())
	}
	if task.Balance() != 0 {
		t.Errorf("expected an exhausted balance, got %d", task.Balance())
	}
	if address := task.current().NextAddress(); address != 3 {
		t.Errorf("expected next address 3, got %d", address)
	}
	event := lastEvent(t, repo)
	if eventType := event.GetValue(keyEventType); !elements.Equals(eventType, EventSuspension) {
		t.Errorf("expected a $suspension event, got %s", eventType.Format())
	}
}

// An undefined instruction word terminates the task with $invalidBytecode.
func TestProcessorInvalidBytecode(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo,
		singleProcedure(elements.NewList(), 0, instruction.Word(0xFFFF)), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	if !elements.Equals(task.Exception(), InvalidBytecode) {
		t.Errorf("expected $invalidBytecode, got %v", task.Exception())
	}
	event := lastEvent(t, repo)
	if !elements.Equals(event.GetValue(keyException), InvalidBytecode) {
		t.Errorf("the completion event carries the wrong exception")
	}
}

// Popping an empty stack terminates the task with $stackUnderflow.
func TestProcessorStackUnderflow(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(elements.NewList(), 0,
		instruction.Encode(instruction.POP, instruction.Component, 0)), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !elements.Equals(task.Exception(), StackUnderflow) {
		t.Errorf("expected $stackUnderflow, got %v", task.Exception())
	}
}

// LOAD DOCUMENT through a variable that does not hold a citation raises
// $notAReference.
func TestProcessorNotAReference(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(elements.NewList(), 1,
		instruction.Encode(instruction.LOAD, instruction.Document, 1)), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !elements.Equals(task.Exception(), NotAReference) {
		t.Errorf("expected $notAReference, got %v", task.Exception())
	}
}

// LOAD DOCUMENT of a missing document raises $repositoryFailure.
func TestProcessorRepositoryFailure(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(elements.NewList(), 1,
		instruction.Encode(instruction.LOAD, instruction.Document, 1)), 10)
	task.current().setVariable(1, &elements.Reference{
		Tag:     elements.NewTag(),
		Version: elements.Version{1},
		Digest:  elements.Binary{0x01},
	})

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !elements.Equals(task.Exception(), RepositoryFailure) {
		t.Errorf("expected $repositoryFailure, got %v", task.Exception())
	}
}

// INVOKE pops its arguments in declaration order: the first pop supplies
// parameter 1.
func TestProcessorInvokeIntrinsic(t *testing.T) {
	table := intrinsics.Standard()
	difference := table.IndexOf("difference")
	if difference == 0 {
		t.Fatalf("the standard table has no $difference intrinsic")
	}
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(elements.NewNumber(4), elements.NewNumber(10)), 0,
		instruction.Encode(instruction.PUSH, instruction.Element, 1), // subtrahend, popped second
		instruction.Encode(instruction.PUSH, instruction.Element, 2), // minuend, popped first
		instruction.Encode(instruction.INVOKE, 2, uint16(difference)),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !elements.Equals(task.Result(), elements.NewNumber(6)) {
		t.Errorf("expected result 6, got %v", task.Result())
	}
}

// An intrinsic abort enters the regular exception unwinding.
func TestProcessorIntrinsicAbort(t *testing.T) {
	table := intrinsics.Standard()
	quotient := table.IndexOf("quotient")
	repo := repository.NewMemory()
	defer repo.Close()
	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(elements.NewNumber(0), elements.NewNumber(1)), 0,
		instruction.Encode(instruction.PUSH, instruction.Element, 1), // divisor, popped second
		instruction.Encode(instruction.PUSH, instruction.Element, 2), // dividend, popped first
		instruction.Encode(instruction.INVOKE, 2, uint16(quotient)),
	), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	exception, ok := task.Exception().(*elements.Catalog)
	if !ok {
		t.Fatalf("expected a detailed exception, got %v", task.Exception())
	}
	if !elements.Equals(exception.GetValue(elements.Symbol("exception")),
		elements.Symbol("divisionByZero")) {
		t.Errorf("expected $divisionByZero, got %s", exception.Format())
	}
}

// EXECUTE builds a frame from a cited type document, shares the component
// stack with the caller, and HANDLE RESULT returns across frames.
func TestProcessorExecuteProcedure(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()

	helper := buildTypeDocument(
		elements.NewList(elements.Symbol("hi")),
		[]testProcedure{
			{name: "greet", bytecode: []instruction.Word{
				instruction.Encode(instruction.PUSH, instruction.Element, 1),
				instruction.Encode(instruction.HANDLE, instruction.Result, 0),
			}},
			{name: "echo", bytecode: []instruction.Word{
				instruction.Encode(instruction.LOAD, instruction.Parameter, 1),
				instruction.Encode(instruction.HANDLE, instruction.Result, 0),
			}},
		})
	citation, err := repo.CommitDocument(elements.NewTag(), elements.Version{1}, helper)
	if err != nil {
		t.Fatalf("committing the helper type: %v", err)
	}

	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(citation, elements.NewList(elements.Symbol("pong"))), 0,
		instruction.Encode(instruction.PUSH, instruction.Element, 1),
		instruction.Encode(instruction.EXECUTE, instruction.Bare, 1),
		instruction.Encode(instruction.PUSH, instruction.Element, 1),
		instruction.Encode(instruction.PUSH, instruction.Element, 2),
		instruction.Encode(instruction.EXECUTE, instruction.WithParameters, 2),
		instruction.Encode(instruction.POP, instruction.Component, 0),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 32)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	// The echoed $pong was discarded by POP COMPONENT, leaving $hi from the
	// first call as the final result.
	if !elements.Equals(task.Result(), elements.Symbol("hi")) {
		t.Errorf("expected result $hi, got %v", task.Result())
	}
}

// An exception with no handler anywhere unwinds every frame and attaches
// the exception to the completed task.
func TestProcessorUnhandledExceptionAcrossFrames(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()

	failing := buildTypeDocument(
		elements.NewList(elements.Symbol("broken")),
		[]testProcedure{{name: "fail", bytecode: []instruction.Word{
			instruction.Encode(instruction.PUSH, instruction.Element, 1),
			instruction.Encode(instruction.HANDLE, instruction.Exception, 0),
		}}})
	citation, err := repo.CommitDocument(elements.NewTag(), elements.Version{1}, failing)
	if err != nil {
		t.Fatalf("committing the failing type: %v", err)
	}

	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(citation), 0,
		instruction.Encode(instruction.PUSH, instruction.Element, 1),
		instruction.Encode(instruction.EXECUTE, instruction.Bare, 1),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 10)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	if !elements.Equals(task.Exception(), elements.Symbol("broken")) {
		t.Errorf("expected exception $broken, got %v", task.Exception())
	}
	if task.Result() != nil {
		t.Errorf("unexpected result %v", task.Result())
	}
}

// A caller's handler catches an exception thrown by a called procedure,
// with the exception delivered on the shared component stack.
func TestProcessorHandlerCatchesCalleeException(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()

	failing := buildTypeDocument(
		elements.NewList(elements.Symbol("broken")),
		[]testProcedure{{name: "fail", bytecode: []instruction.Word{
			instruction.Encode(instruction.PUSH, instruction.Element, 1),
			instruction.Encode(instruction.HANDLE, instruction.Exception, 0),
		}}})
	citation, err := repo.CommitDocument(elements.NewTag(), elements.Version{1}, failing)
	if err != nil {
		t.Fatalf("committing the failing type: %v", err)
	}

	task, processor := startTask(t, repo, singleProcedure(
		elements.NewList(citation), 0,
		instruction.Encode(instruction.PUSH, instruction.Handler, 4),
		instruction.Encode(instruction.PUSH, instruction.Element, 1),
		instruction.Encode(instruction.EXECUTE, instruction.Bare, 1),
		instruction.Encode(instruction.HANDLE, instruction.Result, 0),
	), 16)

	if err := processor.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task.Status() != Done {
		t.Fatalf("expected status $done, got %s", task.Status().Format())
	}
	// The handler at address 4 receives the exception on the stack and
	// returns it as the result.
	if !elements.Equals(task.Result(), elements.Symbol("broken")) {
		t.Errorf("expected result $broken, got %v", task.Result())
	}
	if task.Exception() != nil {
		t.Errorf("unexpected exception %v", task.Exception())
	}
}
