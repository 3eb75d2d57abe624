package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/yalue/elf_reader"
	"go.uber.org/zap"

	"github.com/templatevm/core/pkg/heap"
	"github.com/templatevm/core/pkg/heapio"
	"github.com/templatevm/core/pkg/tvm"
)

func main() {
	app := &cli.App{
		Name:  "tvm",
		Usage: "run a compiled template program against the bytecode VM",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "filename",
				Aliases:  []string{"f"},
				Usage:    "path to the ELF object containing the compiled heap",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "section",
				Value: ".tvmheap",
				Usage: "ELF section holding the serialized program heap",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "panic on program invariant violations instead of degrading them",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "enable zap debug-level step tracing",
			},
			&cli.IntFlag{
				Name:  "pc",
				Value: 0,
				Usage: "initial program counter",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "path to write the finalized encoder stream as newline-delimited hex words (defaults to stdout)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if c.Bool("trace") {
		level.SetLevel(zap.DebugLevel)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	log, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "tvm: building logger")
	}
	defer log.Sync() //nolint:errcheck

	raw, err := os.ReadFile(c.String("filename"))
	if err != nil {
		return errors.Wrap(err, "tvm: reading program file")
	}

	section := c.String("section")
	programHeap, err := loadHeap(raw, section)
	if err != nil {
		return err
	}
	log.Info("program heap loaded",
		zap.String("section", section),
		zap.Int32("code_words", programHeap.Len()),
	)

	host := &noopHost{log: log}
	machine := tvm.New(programHeap, host,
		tvm.WithLogger(log),
		tvm.WithDebugMode(c.Bool("debug")),
		tvm.WithDevMode(c.Bool("trace")),
	)
	machine.PC = int32(c.Int("pc"))
	log.Info("vm starting", zap.String("vm_id", machine.ID().String()), zap.Int32("pc", machine.PC))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	status := tvm.StatusContinue
	steps := 0
	for status == tvm.StatusContinue {
		select {
		case <-ctx.Done():
			log.Warn("interrupted", zap.Int("steps", steps))
			return nil
		default:
		}
		status = machine.EvaluateOne()
		steps++
	}

	if status == tvm.StatusError {
		return errors.Wrapf(machine.LastError(), "tvm: render failed after %d steps", steps)
	}

	log.Info("vm done", zap.Int("steps", steps))
	return writeEncoderStream(c.String("out"), machine)
}

// loadHeap scans the ELF section table for name and deserializes its
// content into a program heap.
func loadHeap(raw []byte, section string) (*heap.Heap, error) {
	elf, err := elf_reader.ParseELFFile(raw)
	if err != nil {
		return nil, errors.Wrap(err, "tvm: parsing ELF file")
	}

	for i := uint16(1); i < elf.GetSectionCount(); i++ {
		name, err := elf.GetSectionName(i)
		if err != nil {
			return nil, errors.Wrap(err, "tvm: reading section name")
		}
		if name != section {
			continue
		}
		content, err := elf.GetSectionContent(i)
		if err != nil {
			return nil, errors.Wrap(err, "tvm: reading section content")
		}
		h, err := heapio.Decode(content)
		if err != nil {
			return nil, errors.Wrapf(err, "tvm: decoding section %s", section)
		}
		return h, nil
	}

	return nil, errors.Errorf("tvm: cannot find section %s", section)
}

// writeEncoderStream finalizes the VM's encoder and writes the resulting
// words as newline-delimited hex, one per line, to path (or stdout when
// path is empty).
func writeEncoderStream(path string, machine *tvm.VM) error {
	words := machine.Encoder().AsSlice()

	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "tvm: opening output file")
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	defer w.Flush() //nolint:errcheck
	for _, word := range words {
		if _, err := fmt.Fprintf(w, "%08x\n", word); err != nil {
			return errors.Wrap(err, "tvm: writing encoder stream")
		}
	}
	machine.Encoder().Finalize()
	return nil
}

// noopHost is the default syscall/component host for standalone CLI runs:
// it has no real DOM backend to delegate to, so EvaluateSyscall just logs
// and succeeds, while LoadComponent logs and returns an error. A real host embedding this VM (the DOM renderer
// that owns the constant pool and the live component tree) would replace
// this entirely.
type noopHost struct {
	log *zap.Logger
}

func (h *noopHost) EvaluateSyscall(vm *tvm.VM, offset int32) error {
	h.log.Debug("unhandled syscall opcode", zap.Int32("offset", offset))
	return nil
}

func (h *noopHost) LoadComponent(objIdx uint32) ([5]uint32, error) {
	h.log.Warn("load_component called with no host component store configured", zap.Uint32("object", objIdx))
	return [5]uint32{}, errors.Errorf("tvm: no component store configured for object %d", objIdx)
}
