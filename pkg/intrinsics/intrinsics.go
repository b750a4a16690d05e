// Package intrinsics implements the table of intrinsic functions that the
// INVOKE instruction calls by index.
//
// The virtual machine treats intrinsics as opaque callable units: it pops
// the declared number of arguments, calls the indexed function, and pushes
// the result. Both the instruction operand and the table are 1-based; slot
// zero is never populated. An intrinsic signals an exception by returning an
// Abort error carrying the exception value, which the processor routes into
// the regular handler unwinding.
package intrinsics

import (
	"fmt"

	"github.com/bali-nebula/bvm/pkg/elements"
)

// Table is the intrinsic function registry consumed by the processor.
type Table interface {
	// Invoke calls the intrinsic at the 1-based index with the arguments in
	// invocation order.
	Invoke(index int, arguments []elements.Value) (elements.Value, error)

	// NameOf returns the symbol naming the intrinsic at the 1-based index.
	NameOf(index int) (elements.Symbol, bool)

	// IndexOf returns the 1-based index of the named intrinsic, or zero.
	IndexOf(name elements.Symbol) int
}

// Abort is the error an intrinsic returns to raise an exception inside the
// invoking task.
type Abort struct {
	Exception elements.Value
}

// Error implements the error interface.
func (a *Abort) Error() string {
	return fmt.Sprintf("intrinsics: aborted with %s", a.Exception.Format())
}

// abortf raises a $invalidParameter style exception with a detail message.
func abortf(symbol elements.Symbol, format string, arguments ...interface{}) error {
	detail := elements.NewCatalog()
	detail.SetValue(elements.Symbol("exception"), symbol)
	detail.SetValue(elements.Symbol("message"), elements.Text(fmt.Sprintf(format, arguments...)))
	return &Abort{Exception: detail}
}

type function struct {
	name elements.Symbol
	call func(arguments []elements.Value) (elements.Value, error)
}

type table struct {
	functions []function
	index     map[elements.Symbol]int
}

// Invoke implements Table.
func (t *table) Invoke(index int, arguments []elements.Value) (elements.Value, error) {
	if index < 1 || index > len(t.functions) {
		return nil, fmt.Errorf("intrinsics: index %d out of range [1..%d]", index, len(t.functions))
	}
	return t.functions[index-1].call(arguments)
}

// NameOf implements Table.
func (t *table) NameOf(index int) (elements.Symbol, bool) {
	if index < 1 || index > len(t.functions) {
		return "", false
	}
	return t.functions[index-1].name, true
}

// IndexOf implements Table.
func (t *table) IndexOf(name elements.Symbol) int {
	return t.index[name]
}

// Standard returns the standard intrinsic table. The assignment of indices
// to functions is part of the platform contract shared with the compiler:
// reordering this list invalidates previously assembled bytecode.
func Standard() Table {
	t := &table{index: make(map[elements.Symbol]int)}
	for _, f := range []function{
		{"catalog", intrinsicCatalog},
		{"list", intrinsicList},
		{"addItem", intrinsicAddItem},
		{"setValue", intrinsicSetValue},
		{"getValue", intrinsicGetValue},
		{"getItem", intrinsicGetItem},
		{"size", intrinsicSize},
		{"sum", numeric("sum", func(a, b complex128) complex128 { return a + b })},
		{"difference", numeric("difference", func(a, b complex128) complex128 { return a - b })},
		{"product", numeric("product", func(a, b complex128) complex128 { return a * b })},
		{"quotient", intrinsicQuotient},
		{"inverse", intrinsicInverse},
		{"comparison", intrinsicComparison},
		{"isLess", intrinsicIsLess},
		{"isMore", intrinsicIsMore},
		{"isEqual", intrinsicIsEqual},
		{"not", intrinsicNot},
		{"and", logical("and", func(a, b bool) bool { return a && b })},
		{"or", logical("or", func(a, b bool) bool { return a || b })},
		{"concatenation", intrinsicConcatenation},
	} {
		t.functions = append(t.functions, f)
		t.index[f.name] = len(t.functions)
	}
	return t
}

func requireArity(name string, arguments []elements.Value, arity int) error {
	if len(arguments) != arity {
		return abortf("invalidParameter", "$%s requires %d arguments, received %d",
			name, arity, len(arguments))
	}
	return nil
}

func intrinsicCatalog(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("catalog", arguments, 0); err != nil {
		return nil, err
	}
	return elements.NewCatalog(), nil
}

func intrinsicList(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("list", arguments, 0); err != nil {
		return nil, err
	}
	return elements.NewList(), nil
}

func intrinsicAddItem(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("addItem", arguments, 2); err != nil {
		return nil, err
	}
	switch collection := arguments[0].(type) {
	case *elements.List:
		collection.Add(arguments[1])
		return collection, nil
	case *elements.Set:
		collection.Add(arguments[1])
		return collection, nil
	}
	return nil, abortf("invalidParameter", "$addItem requires a list or set, received %s",
		arguments[0].Format())
}

func intrinsicSetValue(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("setValue", arguments, 3); err != nil {
		return nil, err
	}
	catalog, ok := arguments[0].(*elements.Catalog)
	if !ok {
		return nil, abortf("invalidParameter", "$setValue requires a catalog, received %s",
			arguments[0].Format())
	}
	catalog.SetValue(arguments[1], arguments[2])
	return catalog, nil
}

func intrinsicGetValue(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("getValue", arguments, 2); err != nil {
		return nil, err
	}
	catalog, ok := arguments[0].(*elements.Catalog)
	if !ok {
		return nil, abortf("invalidParameter", "$getValue requires a catalog, received %s",
			arguments[0].Format())
	}
	if value := catalog.GetValue(arguments[1]); value != nil {
		return value, nil
	}
	return elements.None, nil
}

func intrinsicGetItem(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("getItem", arguments, 2); err != nil {
		return nil, err
	}
	index, ok := arguments[1].(elements.Number)
	if !ok {
		return nil, abortf("invalidParameter", "$getItem requires a numeric index, received %s",
			arguments[1].Format())
	}
	var item elements.Value
	switch collection := arguments[0].(type) {
	case *elements.List:
		item = collection.Get(index.AsInteger())
	case *elements.Set:
		item = collection.GetItem(index.AsInteger())
	default:
		return nil, abortf("invalidParameter", "$getItem requires a list or set, received %s",
			arguments[0].Format())
	}
	if item == nil {
		return nil, abortf("invalidIndex", "index %d is out of range", index.AsInteger())
	}
	return item, nil
}

func intrinsicSize(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("size", arguments, 1); err != nil {
		return nil, err
	}
	switch collection := arguments[0].(type) {
	case *elements.List:
		return elements.NewNumber(float64(collection.Size())), nil
	case *elements.Catalog:
		return elements.NewNumber(float64(collection.Size())), nil
	case *elements.Set:
		return elements.NewNumber(float64(collection.Size())), nil
	case elements.Binary:
		return elements.NewNumber(float64(len(collection))), nil
	case elements.Text:
		return elements.NewNumber(float64(len(collection))), nil
	}
	return nil, abortf("invalidParameter", "$size requires a collection, received %s",
		arguments[0].Format())
}

func asNumber(name string, argument elements.Value) (complex128, error) {
	number, ok := argument.(elements.Number)
	if !ok {
		return 0, abortf("invalidParameter", "$%s requires numbers, received %s",
			name, argument.Format())
	}
	return complex128(number), nil
}

func numeric(name string, combine func(a, b complex128) complex128) func([]elements.Value) (elements.Value, error) {
	return func(arguments []elements.Value) (elements.Value, error) {
		if err := requireArity(name, arguments, 2); err != nil {
			return nil, err
		}
		a, err := asNumber(name, arguments[0])
		if err != nil {
			return nil, err
		}
		b, err := asNumber(name, arguments[1])
		if err != nil {
			return nil, err
		}
		return elements.Number(combine(a, b)), nil
	}
}

func intrinsicQuotient(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("quotient", arguments, 2); err != nil {
		return nil, err
	}
	a, err := asNumber("quotient", arguments[0])
	if err != nil {
		return nil, err
	}
	b, err := asNumber("quotient", arguments[1])
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, abortf("divisionByZero", "the divisor is zero")
	}
	return elements.Number(a / b), nil
}

func intrinsicInverse(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("inverse", arguments, 1); err != nil {
		return nil, err
	}
	a, err := asNumber("inverse", arguments[0])
	if err != nil {
		return nil, err
	}
	return elements.Number(-a), nil
}

func intrinsicComparison(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("comparison", arguments, 2); err != nil {
		return nil, err
	}
	return elements.NewNumber(float64(elements.Compare(arguments[0], arguments[1]))), nil
}

func intrinsicIsLess(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("isLess", arguments, 2); err != nil {
		return nil, err
	}
	return elements.Boolean(elements.Compare(arguments[0], arguments[1]) < 0), nil
}

func intrinsicIsMore(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("isMore", arguments, 2); err != nil {
		return nil, err
	}
	return elements.Boolean(elements.Compare(arguments[0], arguments[1]) > 0), nil
}

func intrinsicIsEqual(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("isEqual", arguments, 2); err != nil {
		return nil, err
	}
	return elements.Boolean(elements.Equals(arguments[0], arguments[1])), nil
}

func asCondition(name string, argument elements.Value) (bool, error) {
	template, ok := argument.(elements.Template)
	if !ok || template == elements.None {
		return false, abortf("invalidParameter", "$%s requires booleans, received %s",
			name, argument.Format())
	}
	return template == elements.True, nil
}

func intrinsicNot(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("not", arguments, 1); err != nil {
		return nil, err
	}
	condition, err := asCondition("not", arguments[0])
	if err != nil {
		return nil, err
	}
	return elements.Boolean(!condition), nil
}

func logical(name string, combine func(a, b bool) bool) func([]elements.Value) (elements.Value, error) {
	return func(arguments []elements.Value) (elements.Value, error) {
		if err := requireArity(name, arguments, 2); err != nil {
			return nil, err
		}
		a, err := asCondition(name, arguments[0])
		if err != nil {
			return nil, err
		}
		b, err := asCondition(name, arguments[1])
		if err != nil {
			return nil, err
		}
		return elements.Boolean(combine(a, b)), nil
	}
}

func intrinsicConcatenation(arguments []elements.Value) (elements.Value, error) {
	if err := requireArity("concatenation", arguments, 2); err != nil {
		return nil, err
	}
	a, okA := arguments[0].(elements.Text)
	b, okB := arguments[1].(elements.Text)
	if !okA || !okB {
		return nil, abortf("invalidParameter", "$concatenation requires text values")
	}
	return a + b, nil
}
