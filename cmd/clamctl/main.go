package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/clamctl/internal/clamd"
	"github.com/danmuck/clamctl/internal/logging"
)

// Exit codes follow the clamdscan convention: 0 clean, 1 infected,
// 2 error.
const (
	exitClean    = 0
	exitInfected = 1
	exitError    = 2
)

const usageText = `usage: clamctl [flags] <command> [args]

commands:
  ping              check daemon liveness
  version           report daemon and signature database versions
  scan <path...>    scan paths on the daemon's filesystem
  instream <file|-> stream a local file (or stdin) to the daemon

flags:
`

// scanner is the daemon surface the CLI drives; *clamd.Client satisfies
// it and tests substitute a fake.
type scanner interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (clamd.Version, error)
	ScanStream(ctx context.Context, data io.Reader) (clamd.ScanResult, error)
	ScanPath(ctx context.Context, path string) (clamd.ScanResult, error)
	Close() error
}

var _ scanner = (*clamd.Client)(nil)

func main() {
	configPath := flag.String("config", "", "optional TOML config path")
	addr := flag.String("addr", "", "daemon address (host:port or socket path)")
	network := flag.String("network", "", "daemon network: tcp or unix")
	timeout := flag.Duration("timeout", 0, "dial timeout")
	chunk := flag.Int("chunk", 0, "INSTREAM chunk size in bytes")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := clamd.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "clamctl: %v\n", err)
			os.Exit(exitError)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Address = *addr
	}
	if *network != "" {
		cfg.Network = *network
	}
	if *timeout > 0 {
		cfg.DialTimeout = *timeout
	}
	if *chunk > 0 {
		cfg.ChunkSize = *chunk
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "clamctl: %v\n", err)
		os.Exit(exitError)
	}
	logger := logging.Component("clamctl")
	cfg.Logger = &logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := clamd.New(cfg)
	code := runCommand(ctx, client, flag.Args(), os.Stdout, os.Stderr)
	_ = client.Close()
	stop()
	os.Exit(code)
}

func runCommand(ctx context.Context, c scanner, args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "clamctl: missing command (ping, version, scan, instream)")
		return exitError
	}
	switch args[0] {
	case "ping":
		return runPing(ctx, c, out, errOut)
	case "version":
		return runVersion(ctx, c, out, errOut)
	case "scan":
		return runScan(ctx, c, args[1:], out, errOut)
	case "instream":
		return runInstream(ctx, c, args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "clamctl: unknown command %q\n", args[0])
		return exitError
	}
}

func runPing(ctx context.Context, c scanner, out, errOut io.Writer) int {
	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		fmt.Fprintf(errOut, "clamctl: %v\n", err)
		return exitError
	}
	fmt.Fprintf(out, "PONG (%s)\n", time.Since(start).Round(time.Millisecond))
	return exitClean
}

func runVersion(ctx context.Context, c scanner, out, errOut io.Writer) int {
	v, err := c.Version(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "clamctl: %v\n", err)
		return exitError
	}
	fmt.Fprintf(out, "%s (db %s)\n", v.Program, v.Database)
	return exitClean
}

func runScan(ctx context.Context, c scanner, paths []string, out, errOut io.Writer) int {
	if len(paths) == 0 {
		fmt.Fprintln(errOut, "clamctl: scan requires at least one path")
		return exitError
	}
	code := exitClean
	for _, path := range paths {
		res, err := c.ScanPath(ctx, path)
		if err != nil {
			fmt.Fprintf(errOut, "clamctl: %s: %v\n", path, err)
			return exitError
		}
		code = worse(code, printVerdict(out, path, res))
	}
	return code
}

func runInstream(ctx context.Context, c scanner, args []string, out, errOut io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "clamctl: instream requires exactly one file argument (or - for stdin)")
		return exitError
	}
	target := args[0]
	var data io.Reader = os.Stdin
	label := "stdin"
	if target != "-" {
		f, err := os.Open(target)
		if err != nil {
			fmt.Fprintf(errOut, "clamctl: %v\n", err)
			return exitError
		}
		defer f.Close()
		data = f
		label = target
	}
	res, err := c.ScanStream(ctx, data)
	if err != nil {
		fmt.Fprintf(errOut, "clamctl: %s: %v\n", label, err)
		return exitError
	}
	return printVerdict(out, label, res)
}

// printVerdict renders one clamdscan-style verdict line and maps the
// verdict to its exit code.
func printVerdict(out io.Writer, target string, res clamd.ScanResult) int {
	switch {
	case res.Infected():
		fmt.Fprintf(out, "%s: %s FOUND\n", target, res.Signature)
		return exitInfected
	case res.Clean():
		fmt.Fprintf(out, "%s: OK\n", target)
		return exitClean
	default:
		fmt.Fprintf(out, "%s: %s ERROR\n", target, res.Message)
		return exitError
	}
}

func worse(a, b int) int {
	// error outranks infected outranks clean
	if a == exitError || b == exitError {
		return exitError
	}
	if a == exitInfected || b == exitInfected {
		return exitInfected
	}
	return exitClean
}
