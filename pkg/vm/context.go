package vm

import (
	"fmt"

	"github.com/bali-nebula/bvm/pkg/elements"
	"github.com/bali-nebula/bvm/pkg/instruction"
)

// Document field names shared by the context serializations and the type
// document schema produced by the external compiler.
const (
	keyTargetComponent      = elements.Symbol("targetComponent")
	keyTypeReference        = elements.Symbol("typeReference")
	keyProcedureName        = elements.Symbol("procedureName")
	keyLiteralValues        = elements.Symbol("literalValues")
	keyVariableValues       = elements.Symbol("variableValues")
	keyParameterValues      = elements.Symbol("parameterValues")
	keyBytecodeInstructions = elements.Symbol("bytecodeInstructions")
	keyNextAddress          = elements.Symbol("nextAddress")
	keyProcedureDefinitions = elements.Symbol("procedureDefinitions")
)

// ProcedureContext is the activation record for one procedure call. The
// component and handler stacks live on the task, not here; a frame owns only
// its code, its symbol tables, and its instruction pointer.
type ProcedureContext struct {
	target     elements.Value   // the receiver of the call, or none
	typeRef    *elements.Reference
	name       elements.Symbol
	literals   []elements.Value // immutable, indexed 1..N
	variables  []elements.Value // mutable cells, indexed 1..N
	parameters []elements.Value // immutable once entered, indexed 1..N
	bytecode   []instruction.Word
	address    int // next instruction address, 1-based
}

// NewProcedureContext builds a frame for procedure ordinal index of the
// given type document. The variable cells start out holding none and the
// next address starts at 1.
func NewProcedureContext(typeRef *elements.Reference, typeDocument *elements.Catalog,
	index int, target elements.Value, parameters []elements.Value) (*ProcedureContext, error) {

	definitions, ok := typeDocument.GetValue(keyProcedureDefinitions).(*elements.Catalog)
	if !ok {
		return nil, fmt.Errorf("vm: type document has no procedure definitions")
	}
	association, ok := definitions.Association(index)
	if !ok {
		return nil, fmt.Errorf("vm: type document has no procedure %d", index)
	}
	name, ok := association.Key.(elements.Symbol)
	if !ok {
		return nil, fmt.Errorf("vm: procedure %d has no symbolic name", index)
	}
	definition, ok := association.Value.(*elements.Catalog)
	if !ok {
		return nil, fmt.Errorf("vm: procedure %s has no definition", name.Format())
	}
	binary, ok := definition.GetValue(keyBytecodeInstructions).(elements.Binary)
	if !ok {
		return nil, fmt.Errorf("vm: procedure %s has no bytecode", name.Format())
	}
	bytecode, err := instruction.FromBytes(binary)
	if err != nil {
		return nil, err
	}
	var literals []elements.Value
	if list, ok := typeDocument.GetValue(keyLiteralValues).(*elements.List); ok {
		literals = list.Items()
	}
	var variables []elements.Value
	if declarations, ok := definition.GetValue(keyVariableValues).(*elements.List); ok {
		variables = make([]elements.Value, declarations.Size())
		for i := range variables {
			variables[i] = elements.None
		}
	}
	if target == nil {
		target = elements.None
	}
	return &ProcedureContext{
		target:     target,
		typeRef:    typeRef,
		name:       name,
		literals:   literals,
		variables:  variables,
		parameters: parameters,
		bytecode:   bytecode,
		address:    1,
	}, nil
}

// Name returns the symbolic name of the procedure.
func (c *ProcedureContext) Name() elements.Symbol { return c.name }

// Target returns the receiver of the call, or none.
func (c *ProcedureContext) Target() elements.Value { return c.target }

// NextAddress returns the 1-based address of the next instruction.
func (c *ProcedureContext) NextAddress() int { return c.address }

// Bytecode returns the instruction sequence of the procedure.
func (c *ProcedureContext) Bytecode() []instruction.Word { return c.bytecode }

// literal returns the 1-based literal, or nil when the index is out of range.
func (c *ProcedureContext) literal(index int) elements.Value {
	if index < 1 || index > len(c.literals) {
		return nil
	}
	return c.literals[index-1]
}

// variable returns the 1-based variable cell, or nil when out of range.
func (c *ProcedureContext) variable(index int) elements.Value {
	if index < 1 || index > len(c.variables) {
		return nil
	}
	return c.variables[index-1]
}

// setVariable writes the 1-based variable cell, reporting range validity.
func (c *ProcedureContext) setVariable(index int, value elements.Value) bool {
	if index < 1 || index > len(c.variables) {
		return false
	}
	c.variables[index-1] = value
	return true
}

// parameter returns the 1-based parameter, or nil when out of range.
func (c *ProcedureContext) parameter(index int) elements.Value {
	if index < 1 || index > len(c.parameters) {
		return nil
	}
	return c.parameters[index-1]
}

// Export serializes the frame into its document form.
func (c *ProcedureContext) Export() *elements.Catalog {
	document := elements.NewCatalog()
	document.SetValue(keyTargetComponent, c.target)
	document.SetValue(keyTypeReference, c.typeRef)
	document.SetValue(keyProcedureName, c.name)
	document.SetValue(keyLiteralValues, elements.NewList(c.literals...))
	document.SetValue(keyVariableValues, elements.NewList(c.variables...))
	document.SetValue(keyParameterValues, elements.NewList(c.parameters...))
	document.SetValue(keyBytecodeInstructions, elements.Binary(instruction.ToBytes(c.bytecode)))
	document.SetValue(keyNextAddress, elements.NewNumber(float64(c.address)))
	return document
}

// ImportProcedureContext rebuilds a frame from its document form.
func ImportProcedureContext(document *elements.Catalog) (*ProcedureContext, error) {
	target := document.GetValue(keyTargetComponent)
	if target == nil {
		return nil, fmt.Errorf("vm: procedure context has no target component")
	}
	typeRef, ok := document.GetValue(keyTypeReference).(*elements.Reference)
	if !ok {
		return nil, fmt.Errorf("vm: procedure context has no type reference")
	}
	name, ok := document.GetValue(keyProcedureName).(elements.Symbol)
	if !ok {
		return nil, fmt.Errorf("vm: procedure context has no procedure name")
	}
	binary, ok := document.GetValue(keyBytecodeInstructions).(elements.Binary)
	if !ok {
		return nil, fmt.Errorf("vm: procedure context has no bytecode")
	}
	bytecode, err := instruction.FromBytes(binary)
	if err != nil {
		return nil, err
	}
	address, ok := document.GetValue(keyNextAddress).(elements.Number)
	if !ok {
		return nil, fmt.Errorf("vm: procedure context has no next address")
	}
	context := &ProcedureContext{
		target:   target,
		typeRef:  typeRef,
		name:     name,
		bytecode: bytecode,
		address:  address.AsInteger(),
	}
	for key, sequence := range map[elements.Symbol]*[]elements.Value{
		keyLiteralValues:   &context.literals,
		keyVariableValues:  &context.variables,
		keyParameterValues: &context.parameters,
	} {
		list, ok := document.GetValue(key).(*elements.List)
		if !ok {
			return nil, fmt.Errorf("vm: procedure context has no %s", key.Format())
		}
		*sequence = list.Items()
	}
	return context, nil
}
