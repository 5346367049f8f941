package kmain

import (
	"github.com/goldencm/blanc-os/device/input"
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/boot"
	"github.com/goldencm/blanc-os/kernel/driver/serial"
	"github.com/goldencm/blanc-os/kernel/hal/multiboot"
	"github.com/goldencm/blanc-os/kernel/irq"
	"github.com/goldencm/blanc-os/kernel/kfmt"
	"github.com/goldencm/blanc-os/kernel/mm/heap"
	"github.com/goldencm/blanc-os/kernel/mm/pmm"
	"github.com/goldencm/blanc-os/kernel/mm/vmm"
	"github.com/goldencm/blanc-os/kernel/task"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// bootInfo is kept outside of the Kmain stack frame; the rt0 stack is
	// only a few KiB.
	bootInfo boot.Info

	com1 serial.Port

	kbdOut   = kfmt.PrefixWriter{Sink: &com1, Prefix: []byte("[kbd] ")}
	mouseOut = kfmt.PrefixWriter{Sink: &com1, Prefix: []byte("[mouse] ")}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	consoleInitFn = initConsole
	readMemMapFn  = multiboot.ReadMemoryMap
	vmmInitFn     = vmm.Init
	pmmInitFn     = pmm.Init
	heapInitFn    = heap.Init
	irqInitFn     = irq.Init
	handleIRQFn   = irq.HandleIRQ
	runExecutorFn = runExecutor
	panicFn       = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	consoleInitFn()
	multiboot.SetInfoPtr(multibootInfoPtr)

	if err := initMemory(kernelStart, kernelEnd); err != nil {
		panicFn(err)
		return
	}

	if err := initInput(); err != nil {
		panicFn(err)
		return
	}

	runExecutorFn()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

func initConsole() {
	com1.Init(serial.COM1)
	kfmt.SetOutputSink(&com1)
	kfmt.Printf("[kmain] starting blanc-os\n")
}

// initMemory brings up the memory subsystems in dependency order: the frame
// allocator needs the recursive mapping and the heap needs frames.
func initMemory(kernelStart, kernelEnd uintptr) *kernel.Error {
	bootInfo.RecursiveIndex = boot.DefaultRecursiveIndex

	var err *kernel.Error
	if err = readMemMapFn(&bootInfo.Memory); err != nil {
		return err
	}

	if err = bootInfo.Memory.Exclude(uint64(kernelStart), uint64(kernelEnd), boot.KindKernel); err != nil {
		return err
	}

	kfmt.Printf("[kmain] kernel image [0x%16x - 0x%16x), %dKb usable\n",
		kernelStart, kernelEnd, bootInfo.Memory.UsableBytes()>>10,
	)

	if err = vmmInitFn(bootInfo.RecursiveIndex); err != nil {
		return err
	} else if err = pmmInitFn(&bootInfo); err != nil {
		return err
	} else if err = heapInitFn(); err != nil {
		return err
	}

	return nil
}

func initInput() *kernel.Error {
	input.Init()
	irqInitFn()

	if err := handleIRQFn(irq.Keyboard, input.KeyboardIRQ); err != nil {
		return err
	}
	return handleIRQFn(irq.Mouse, input.MouseIRQ)
}

// spawnDeviceTasks seeds e with the keyboard and mouse stream tasks.
func spawnDeviceTasks(e *task.Executor) {
	e.Spawn(task.New(input.KeyboardTask(func(scancode uint8) {
		kfmt.Fprintf(&kbdOut, "scancode 0x%2x\n", scancode)
	})))

	e.Spawn(task.New(input.MouseTask(func(p input.Packet) {
		kfmt.Fprintf(&mouseOut, "dx %d dy %d buttons %t/%t/%t\n", p.DX, p.DY, p.LeftButton(), p.MiddleButton(), p.RightButton())
	})))
}

func runExecutor() {
	e := task.NewExecutor()
	spawnDeviceTasks(e)
	kfmt.Printf("[kmain] running executor with %d tasks\n", e.Len())
	e.Run()
}
