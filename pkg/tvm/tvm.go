// Package tvm implements the VM dispatcher: the register file, the
// machine-op and syscall-fast-path handlers, and the evaluate_one/
// evaluate_all driver loop that ties the stack, program heap, encoder, and
// component table together.
package tvm

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/templatevm/core/pkg/component"
	"github.com/templatevm/core/pkg/encoder"
	"github.com/templatevm/core/pkg/gbox"
	"github.com/templatevm/core/pkg/opcode"
	"github.com/templatevm/core/pkg/stack"
)

// Sentinel error kinds. Callers match them with errors.Is; wrapping with
// errors.Wrapf attaches the opcode offset or register/handle id that
// triggered them.
var (
	ErrInvalidOpcode = errors.New("tvm: program invariant violation")
	ErrRegisterRange = errors.New("tvm: register index out of range")
	ErrHostSyscall   = errors.New("tvm: host syscall exception")
)

// Status is the outcome of a single evaluate_one step.
type Status int

const (
	StatusContinue Status = iota
	StatusDone
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "Continue"
	case StatusDone:
		return "Done"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// HeapReader is the portion of the program heap the VM needs during
// dispatch: opcode decoding plus handle-to-address resolution for
// InvokeStatic/InvokeVirtual.
type HeapReader interface {
	opcode.WordReader
	GetAddr(handle uint32) int32
}

// Debugger receives dev-mode instrumentation hooks around each opcode.
// DebugBefore's return value is threaded back into the matching DebugAfter
// call unchanged.
type Debugger interface {
	DebugBefore(offset int32) any
	DebugAfter(token any, offset int32)
}

// SyscallHost executes any syscall opcode the VM's own fast path doesn't
// recognize. vm is the calling VM, given so the host can read/mutate its
// stack, encoder, and registers while servicing the call.
type SyscallHost interface {
	EvaluateSyscall(vm *VM, offset int32) error
}

// ComponentLoader services the component-unwrap upcall: given the opaque
// host-side index carried by an Other-tagged GBox, it returns the five
// GBox field words backing that component.
type ComponentLoader interface {
	LoadComponent(objIdx uint32) ([5]uint32, error)
}

// Host bundles the two upcall collaborators a VM needs from its owner.
type Host interface {
	SyscallHost
	ComponentLoader
}

// Registers is the VM's bank of boxed "saved/temp/value" registers,
// addressed as register indices 4..8 by the opcode stream.
type Registers struct {
	S0, S1, T0, T1, V0 gbox.GBox
}

// VM is the register-plus-stack interpreter. It owns its Stack, Encoder,
// and Components table exclusively; the ProgramHeap is shared by reference
// and must outlive the VM. The zero value is not usable; use New.
type VM struct {
	PC, RA        int32
	CurrentOpSize int32
	Regs          Registers

	// DebugMode promotes a ProgramInvariantViolation to a panic instead of
	// degrading it (Op::Bug, GBox zero value, no-op) to keep rendering alive.
	DebugMode bool
	// DevMode wraps every step with the host's debug_before/debug_after
	// upcalls.
	DevMode bool

	stack      *stack.Stack
	enc        *encoder.Encoder
	components *component.Table
	heap       HeapReader

	host     Host
	debugger Debugger

	runID     uuid.UUID
	lastError error
	errored   bool
	log       *zap.Logger
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(vm *VM) { vm.log = log }
}

// WithDebugMode sets the initial DebugMode value.
func WithDebugMode(on bool) Option {
	return func(vm *VM) { vm.DebugMode = on }
}

// WithDevMode sets the initial DevMode value.
func WithDevMode(on bool) Option {
	return func(vm *VM) { vm.DevMode = on }
}

// WithDebugger attaches a dev-mode instrumentation collaborator.
func WithDebugger(d Debugger) Option {
	return func(vm *VM) { vm.debugger = d }
}

// New returns a VM reading opcodes from heap and forwarding unrecognized
// syscalls and component loads to host. PC starts at 0; callers that need a
// different entry point should set it before the first EvaluateOne.
func New(heap HeapReader, host Host, opts ...Option) *VM {
	vm := &VM{
		RA:         -1,
		stack:      stack.New(),
		enc:        encoder.New(),
		components: component.New(),
		heap:       heap,
		host:       host,
		runID:      uuid.New(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.log = vm.log.With(zap.String("vm_id", vm.runID.String()))
	return vm
}

// Stack returns the operand stack.
func (vm *VM) Stack() *stack.Stack { return vm.stack }

// Encoder returns the rendering-instruction encoder.
func (vm *VM) Encoder() *encoder.Encoder { return vm.enc }

// Components returns the component table.
func (vm *VM) Components() *component.Table { return vm.components }

// LastError returns the exception captured by the most recent failing
// syscall upcall, or nil.
func (vm *VM) LastError() error { return vm.lastError }

// ID identifies this VM instance in log output.
func (vm *VM) ID() uuid.UUID { return vm.runID }

// EvaluateOne performs a single dispatch step and reports its outcome. Once
// a step returns StatusError, every subsequent call returns StatusError
// immediately without advancing PC further.
func (vm *VM) EvaluateOne() Status {
	if vm.errored {
		return StatusError
	}
	if vm.PC == -1 {
		return StatusDone
	}

	v := opcode.At(vm.heap, vm.PC)
	offset := v.Addr()
	vm.CurrentOpSize = v.Size()
	vm.PC += vm.CurrentOpSize

	var token any
	if vm.DevMode && vm.debugger != nil {
		token = vm.debugger.DebugBefore(offset)
	}

	if vm.DevMode {
		vm.log.Debug("step", zap.Int32("pc", offset), zap.String("op", v.Op().String()), zap.Int32("size", vm.CurrentOpSize))
	}

	var err error
	if v.IsMachine() {
		err = vm.dispatchMachine(v)
	} else {
		var handled bool
		handled, err = vm.dispatchFastSyscall(v)
		if !handled {
			switch {
			case vm.host == nil:
				err = errors.Wrapf(ErrInvalidOpcode, "no host configured for syscall op at %d", offset)
			default:
				if hostErr := vm.host.EvaluateSyscall(vm, offset); hostErr != nil {
					err = errors.Wrapf(ErrHostSyscall, "evaluate_syscall at %d: %v", offset, hostErr)
				}
			}
		}
	}

	if vm.DevMode && vm.debugger != nil {
		vm.debugger.DebugAfter(token, offset)
	}

	vm.handleError(err, offset)
	if vm.errored {
		return StatusError
	}
	return StatusContinue
}

// EvaluateAll drives EvaluateOne until it reports Done or Error.
func (vm *VM) EvaluateAll() Status {
	for {
		st := vm.EvaluateOne()
		if st != StatusContinue {
			return st
		}
	}
}

func (vm *VM) handleError(err error, offset int32) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrHostSyscall) {
		vm.lastError = err
		vm.errored = true
		vm.log.Error("host syscall exception", zap.Int32("offset", offset), zap.Error(err))
		return
	}
	if vm.DebugMode {
		panic(err.Error())
	}
	vm.log.Warn("degrading program invariant violation", zap.Int32("offset", offset), zap.Error(err))
}

func (vm *VM) dispatchMachine(v opcode.View) error {
	switch v.Op() {
	case opcode.PushFrame:
		vm.stack.Push(gbox.I32(vm.RA))
		vm.stack.Push(gbox.I32(vm.stack.FP()))
		vm.stack.SetFP(vm.stack.SP() - 1)
		return nil
	case opcode.PopFrame:
		vm.stack.SetSP(vm.stack.FP() - 1)
		ra, err := vm.stack.Get(0).UnwrapI32()
		if err != nil {
			return errors.Wrap(err, "pop_frame: RA slot")
		}
		fp, err := vm.stack.Get(1).UnwrapI32()
		if err != nil {
			return errors.Wrap(err, "pop_frame: FP slot")
		}
		vm.RA = ra
		vm.stack.SetFP(fp)
		return nil
	case opcode.InvokeStatic:
		vm.RA = vm.PC
		vm.PC = vm.heap.GetAddr(uint32(v.Operand(1)))
		return nil
	case opcode.InvokeVirtual:
		addr, err := vm.stack.Pop(1).UnwrapI32()
		if err != nil {
			return errors.Wrap(err, "invoke_virtual: operand")
		}
		vm.RA = vm.PC
		vm.PC = vm.heap.GetAddr(uint32(addr))
		return nil
	case opcode.Jump:
		vm.PC = vm.PC + v.OperandSigned(1) - vm.CurrentOpSize
		return nil
	case opcode.Return:
		vm.PC = vm.RA
		return nil
	case opcode.ReturnTo:
		vm.RA = vm.PC + v.OperandSigned(1) - vm.CurrentOpSize
		return nil
	default:
		return errors.Wrapf(ErrInvalidOpcode, "unexpected machine op %s at %d", v.Op(), v.Addr())
	}
}

func (vm *VM) dispatchFastSyscall(v opcode.View) (bool, error) {
	switch v.Op() {
	case opcode.Pop:
		vm.stack.Pop(v.OperandSigned(1))
		return true, nil
	case opcode.Dup:
		reg, err := vm.register(int32(v.Operand(1)))
		if err != nil {
			return true, err
		}
		base, err := reg.UnwrapI32()
		if err != nil {
			return true, errors.Wrap(err, "dup: register operand")
		}
		vm.stack.Dup(base - v.OperandSigned(2))
		return true, nil
	case opcode.Load:
		return true, vm.setRegister(int32(v.Operand(1)), vm.stack.Pop(1))
	case opcode.Fetch:
		reg, err := vm.register(int32(v.Operand(1)))
		if err != nil {
			return true, err
		}
		vm.stack.Push(reg)
		return true, nil
	case opcode.Primitive:
		vm.stack.Push(decodePrimitive(v.Operand(1)))
		return true, nil
	case opcode.Text:
		vm.enc.AppendText(gbox.ConstantString(uint32(v.Operand(1))))
		return true, nil
	case opcode.Comment:
		vm.enc.AppendComment(gbox.ConstantString(uint32(v.Operand(1))))
		return true, nil
	case opcode.OpenElement:
		vm.enc.OpenElementTag(gbox.ConstantString(uint32(v.Operand(1))))
		return true, nil
	case opcode.OpenDynamicElement:
		vm.enc.OpenDynamicElementTag(vm.stack.Pop(1))
		return true, nil
	case opcode.FlushElement:
		if !vm.Regs.T0.IsNull() {
			vm.enc.FlushElementOps(vm.Regs.T0)
			vm.Regs.T0 = gbox.Null()
		}
		vm.enc.FlushElementTag()
		return true, nil
	case opcode.CloseElement:
		vm.enc.CloseElementTag()
		return true, nil
	case opcode.PushRemoteElement:
		element := vm.stack.Pop(1)
		nextSibling := vm.stack.Pop(1)
		guid := vm.stack.Pop(1)
		vm.enc.PushRemoteElementTag(element, guid, nextSibling)
		return true, nil
	case opcode.PopRemoteElement:
		vm.enc.PopRemoteElementTag()
		return true, nil
	case opcode.StaticAttr:
		name := gbox.ConstantString(uint32(v.Operand(1)))
		value := gbox.ConstantString(uint32(v.Operand(2)))
		namespace := gbox.Null()
		if v.Operand(3) != 0 {
			namespace = gbox.ConstantString(uint32(v.Operand(3)))
		}
		vm.enc.StaticAttrTag(name, value, namespace)
		return true, nil
	case opcode.DynamicAttr:
		name := gbox.ConstantString(uint32(v.Operand(1)))
		reference := vm.stack.Pop(1)
		vm.enc.DynamicAttrTag(name, reference)
		return true, nil
	case opcode.PopulateLayout:
		return true, vm.populateLayout(v)
	default:
		return false, nil
	}
}

func (vm *VM) populateLayout(v opcode.View) error {
	reg, err := vm.register(int32(v.Operand(1)))
	if err != nil {
		return err
	}
	idx, err := vm.resolveComponentIndex(reg)
	if err != nil {
		return err
	}
	table := vm.stack.Pop(1)
	handle := vm.stack.Pop(1)
	if !vm.components.GetMut(idx, func(c *component.Component) {
		c.Table = table
		c.Handle = handle
	}) {
		return errors.Wrapf(ErrInvalidOpcode, "populate_layout: unknown component %d", idx)
	}
	return nil
}

// resolveComponentIndex implements the component-unwrap upcall: a
// Component-tagged GBox already names a row; an Other-tagged GBox names a
// host-owned object whose fields are imported via LoadComponent into a new
// row, transferring authority for that component to the VM. Earlier imports
// are not remembered: unwrapping the same Other-tagged GBox again calls
// LoadComponent again and adds another row.
func (vm *VM) resolveComponentIndex(box gbox.GBox) (uint32, error) {
	val := box.Value()
	switch val.Kind {
	case gbox.KindComponent:
		return val.Index, nil
	case gbox.KindOther:
		if vm.host == nil {
			return 0, errors.Wrap(ErrInvalidOpcode, "component unwrap requires a host")
		}
		fields, err := vm.host.LoadComponent(val.Index)
		if err != nil {
			return 0, errors.Wrapf(ErrHostSyscall, "load_component(%d): %v", val.Index, err)
		}
		return vm.components.Add(component.Component{
			Definition: gbox.FromBits(fields[0]),
			Manager:    gbox.FromBits(fields[1]),
			State:      gbox.FromBits(fields[2]),
			Handle:     gbox.FromBits(fields[3]),
			Table:      gbox.FromBits(fields[4]),
		}), nil
	default:
		return 0, errors.Wrapf(ErrInvalidOpcode, "expected component reference, got %s", val.Kind)
	}
}

const (
	primTagNumber        = 0
	primTagFloat         = 1
	primTagString        = 2
	primTagBooleanOrVoid = 3
	primTagNegative      = 4
	primTagBigNum        = 5
	primTagBits          = 3
	primTagMask          = 1<<primTagBits - 1
)

// decodePrimitive interprets a Primitive operand's low 3 bits as a
// discriminant selecting how the remaining bits become a GBox.
func decodePrimitive(operand uint16) gbox.GBox {
	tag := operand & primTagMask
	payload := uint32(operand >> primTagBits)
	switch tag {
	case primTagNumber:
		return gbox.I32(int32(payload))
	case primTagFloat, primTagNegative, primTagBigNum:
		return gbox.ConstantNumber(payload)
	case primTagString:
		return gbox.ConstantString(payload)
	case primTagBooleanOrVoid:
		return gbox.FromBits(uint32(operand))
	default:
		return gbox.Null()
	}
}

func (vm *VM) register(i int32) (gbox.GBox, error) {
	switch {
	case i == 0:
		return gbox.I32(vm.PC), nil
	case i == 1:
		return gbox.I32(vm.RA), nil
	case i == 2:
		return gbox.I32(vm.stack.FP()), nil
	case i == 3:
		return gbox.I32(vm.stack.SP()), nil
	case i >= 4 && i <= 8:
		return vm.boxedRegister(i - 4), nil
	default:
		return gbox.GBox(0), errors.Wrapf(ErrRegisterRange, "register %d", i)
	}
}

func (vm *VM) setRegister(i int32, val gbox.GBox) error {
	switch {
	case i == 0:
		pc, err := val.UnwrapI32()
		if err != nil {
			return errors.Wrap(err, "set_register(PC)")
		}
		vm.PC = pc
	case i == 1:
		ra, err := val.UnwrapI32()
		if err != nil {
			return errors.Wrap(err, "set_register(RA)")
		}
		vm.RA = ra
	case i == 2:
		fp, err := val.UnwrapI32()
		if err != nil {
			return errors.Wrap(err, "set_register(FP)")
		}
		vm.stack.SetFP(fp)
	case i == 3:
		sp, err := val.UnwrapI32()
		if err != nil {
			return errors.Wrap(err, "set_register(SP)")
		}
		vm.stack.SetSP(sp)
	case i >= 4 && i <= 8:
		vm.setBoxedRegister(i-4, val)
	default:
		return errors.Wrapf(ErrRegisterRange, "register %d", i)
	}
	return nil
}

func (vm *VM) boxedRegister(i int32) gbox.GBox {
	switch i {
	case 0:
		return vm.Regs.S0
	case 1:
		return vm.Regs.S1
	case 2:
		return vm.Regs.T0
	case 3:
		return vm.Regs.T1
	case 4:
		return vm.Regs.V0
	default:
		return gbox.Null()
	}
}

func (vm *VM) setBoxedRegister(i int32, v gbox.GBox) {
	switch i {
	case 0:
		vm.Regs.S0 = v
	case 1:
		vm.Regs.S1 = v
	case 2:
		vm.Regs.T0 = v
	case 3:
		vm.Regs.T1 = v
	case 4:
		vm.Regs.V0 = v
	}
}
