// rbx runs a managed workload on several threads while the collector runs
// alongside it, then prints collector statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/ebrahimk/rubinius/config"
	"github.com/ebrahimk/rubinius/diagnostics"
	"github.com/ebrahimk/rubinius/vm"
	"github.com/ebrahimk/rubinius/vm/memory"
)

var log = commonlog.GetLogger("rbx")

func main() {
	configPath := flag.String("config", "", "Path to rubinius.toml (default: search upwards from the working directory)")
	workers := flag.Int("workers", 0, "Number of worker threads (overrides interpreter.workers)")
	iterations := flag.Int("n", 100000, "Loop iterations per worker")
	rounds := flag.Int("rounds", 1, "Times each worker runs the loop")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides log.verbosity)")
	logPath := flag.String("log", "", "Log file (overrides log.path)")
	interval := flag.Duration("interval", 0, "Scheduled collection interval (overrides gc.interval)")
	reportPath := flag.String("report", "", "Write a CBOR collector report to this file")
	disasm := flag.Bool("disasm", false, "Print the workload bytecode and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rbx [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs an allocating workload on several managed threads with the collector enabled.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rbx -workers 8 -n 1000000          # Eight threads, a million iterations each\n")
		fmt.Fprintf(os.Stderr, "  rbx -config gc.toml -report out.cbor # Custom collector settings, dump a report\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Interpreter.Workers = *workers
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *logPath != "" {
		cfg.Log.Path = *logPath
	}
	if *interval > 0 {
		cfg.GC.Interval.Duration = *interval
	}
	diagnostics.ConfigureLogging(cfg.Log.Verbosity, cfg.Log.Path)

	v, err := vm.NewVM(cfg.VMOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	id := uuid.New()
	log.Infof("vm %s: %d workers, %s iterations x %d rounds", id, cfg.Interpreter.Workers,
		humanize.Comma(int64(*iterations)), *rounds)

	w, err := newWorkload(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *disasm {
		fmt.Print(v.Instructions().Disassemble(w.code.Bytecode))
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sched := memory.NewScheduler(v.Memory(), cfg.GC.Interval.Duration)
	sched.Start()

	start := time.Now()
	results, err := w.run(ctx, cfg.Interpreter.Workers, *iterations, *rounds)
	elapsed := time.Since(start)
	sched.Stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// A final cycle releases the workers' handles and runs their finalizers.
	if _, err := v.Collect(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	report := diagnostics.NewReport(id, v)
	total := int64(0)
	for _, r := range results {
		total += r
	}
	fmt.Printf("%d workers finished in %s, checksum %s, %s finalized\n",
		len(results), elapsed.Round(time.Millisecond), humanize.Comma(total), humanize.Comma(w.finalized.Load()))
	fmt.Printf("scheduler: %s cycles, %d failures\n", humanize.Comma(int64(sched.CycleCount())), sched.Failures())
	fmt.Print(report.Summary())

	if *reportPath != "" {
		if err := report.WriteFile(*reportPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		log.Infof("report written to %s", *reportPath)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}
