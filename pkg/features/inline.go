package features

import (
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// InlineSchema is the call-site schema emitted by the native decoder. One
// row describes one call from a defined caller to a defined callee.
// Extraction does not enforce it; decoders may emit other schemas.
var InlineSchema = arrow.NewSchema([]arrow.Field{
	{Name: "callee_name", Type: arrow.BinaryTypes.String},
	{Name: "callee_instruction_count", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "callee_bb_count", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "callee_arg_count", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "callee_has_var_args", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "callee_has_always_inline", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "callee_has_no_inline", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "callee_is_recursive", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "callee_outgoing_call_count", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "caller_name", Type: arrow.BinaryTypes.String},
	{Name: "caller_bb_count", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "caller_instruction_count", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "caller_is_recursive", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "caller_outgoing_call_count", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "caller_to_callee_instr_ratio", Type: arrow.PrimitiveTypes.Float64},
	{Name: "bb_name", Type: arrow.BinaryTypes.String},
	{Name: "llvm_inlining_decision", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

// Function holds the per-function properties of a module.
type Function struct {
	Name              string
	InstructionCount  uint64
	BBCount           uint64
	ArgCount          uint64
	HasVarArgs        bool
	HasAlwaysInline   bool
	HasNoInline       bool
	IsRecursive       bool
	OutgoingCallCount uint64
}

// CallSite identifies a call by caller, basic block and callee.
type CallSite struct {
	Caller string
	Block  string
	Callee string
}

// Module is the decoded view of a compiled unit: its defined functions, its
// call sites in program order, and the call sites the optimizer inlined.
type Module struct {
	Functions map[string]Function
	CallSites []CallSite
	Inlined   map[CallSite]bool
}

// InlineTable builds a Table in InlineSchema. Call sites whose callee or
// caller is not defined in the module (intrinsics, library calls) are
// skipped. The ratio column is caller instructions over callee instructions.
func (m *Module) InlineTable(mem memory.Allocator) (*Table, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	b := array.NewRecordBuilder(mem, InlineSchema)
	defer b.Release()

	for _, cs := range m.CallSites {
		callee, okCallee := m.Functions[cs.Callee]
		caller, okCaller := m.Functions[cs.Caller]
		if !okCallee || !okCaller {
			continue
		}

		b.Field(0).(*array.StringBuilder).Append(cs.Callee)
		b.Field(1).(*array.Uint64Builder).Append(callee.InstructionCount)
		b.Field(2).(*array.Uint64Builder).Append(callee.BBCount)
		b.Field(3).(*array.Uint64Builder).Append(callee.ArgCount)
		b.Field(4).(*array.BooleanBuilder).Append(callee.HasVarArgs)
		b.Field(5).(*array.BooleanBuilder).Append(callee.HasAlwaysInline)
		b.Field(6).(*array.BooleanBuilder).Append(callee.HasNoInline)
		b.Field(7).(*array.BooleanBuilder).Append(callee.IsRecursive)
		b.Field(8).(*array.Uint64Builder).Append(callee.OutgoingCallCount)
		b.Field(9).(*array.StringBuilder).Append(cs.Caller)
		b.Field(10).(*array.Uint64Builder).Append(caller.BBCount)
		b.Field(11).(*array.Uint64Builder).Append(caller.InstructionCount)
		b.Field(12).(*array.BooleanBuilder).Append(caller.IsRecursive)
		b.Field(13).(*array.Uint64Builder).Append(caller.OutgoingCallCount)
		b.Field(14).(*array.Float64Builder).Append(float64(caller.InstructionCount) / float64(callee.InstructionCount))
		b.Field(15).(*array.StringBuilder).Append(cs.Block)
		b.Field(16).(*array.BooleanBuilder).Append(m.Inlined[cs])
	}

	rec := b.NewRecord()
	defer rec.Release()
	return NewTable(rec.Schema(), rec.Columns())
}

// EncodeInline renders the module's inline table as Arrow IPC, the way the
// native decoder does.
func (m *Module) EncodeInline(opts ...ipc.Option) ([]byte, error) {
	t, err := m.InlineTable(nil)
	if err != nil {
		return nil, err
	}
	defer t.Release()
	return EncodeTable(t, opts...)
}

// FunctionNames returns the defined function names in sorted order
func (m *Module) FunctionNames() []string {
	names := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleModule returns a small module with a recursive function, an
// always-inline helper and a call to an external function.
func SampleModule() *Module {
	fns := []Function{
		{Name: "main", InstructionCount: 42, BBCount: 5, ArgCount: 2, OutgoingCallCount: 3},
		{Name: "parse_args", InstructionCount: 18, BBCount: 3, ArgCount: 2, OutgoingCallCount: 1},
		{Name: "fib", InstructionCount: 12, BBCount: 3, ArgCount: 1, IsRecursive: true, OutgoingCallCount: 2},
		{Name: "square", InstructionCount: 3, BBCount: 1, ArgCount: 1, HasAlwaysInline: true},
	}
	m := &Module{Functions: make(map[string]Function, len(fns))}
	for _, fn := range fns {
		m.Functions[fn.Name] = fn
	}

	m.CallSites = []CallSite{
		{Caller: "main", Block: "entry", Callee: "parse_args"},
		{Caller: "main", Block: "loop", Callee: "fib"},
		{Caller: "main", Block: "exit", Callee: "printf"},
		{Caller: "fib", Block: "recurse", Callee: "fib"},
		{Caller: "parse_args", Block: "entry", Callee: "square"},
	}
	m.Inlined = map[CallSite]bool{
		{Caller: "parse_args", Block: "entry", Callee: "square"}: true,
		{Caller: "main", Block: "entry", Callee: "parse_args"}:    true,
	}
	return m
}
