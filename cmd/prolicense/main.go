// prolicense manages the Pro license on this machine: activation against the
// license server, the encrypted local cache, feature checks, and the loopback
// daemon that other local tools query.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"prolicense/internal/app"
	"prolicense/internal/config"
	"prolicense/internal/infrastructure"
	"prolicense/internal/license"
	"prolicense/pkg/contracts"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitUnavailable = 3
)

type options struct {
	configPath string
	root       string
	serverURL  string
	logLevel   string
	key        string
	port       int
	json       bool
	version    bool
}

type command struct {
	name    string
	args    string
	summary string
	minArgs int
	maxArgs int
	run     func(c *cli, ctx context.Context, args []string) error
}

var commands = []command{
	{name: "activate", args: "--key <KEY>", summary: "activate a license key on this machine", maxArgs: 1, run: (*cli).activate},
	{name: "deactivate", summary: "release this machine's seat", run: (*cli).deactivate},
	{name: "validate", summary: "re-validate the license with the server", run: (*cli).validate},
	{name: "status", summary: "show the cached license state", run: (*cli).status},
	{name: "features", args: "[feature-id]", summary: "list features, or check one", maxArgs: 1, run: (*cli).features},
	{name: "sync", summary: "send a pending offline deactivation", run: (*cli).sync},
	{name: "serve", summary: "run the loopback license daemon", run: (*cli).serve},
}

func lookup(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options

	flagSet := pflag.NewFlagSet(config.AppName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() { printUsage(stderr, flagSet) }
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&opts.root, "root", "", "directory holding the .pro license state")
	flagSet.StringVar(&opts.serverURL, "server-url", "", "license server base URL")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVarP(&opts.key, "key", "k", "", "license key for activate")
	flagSet.IntVarP(&opts.port, "port", "p", 0, "port for serve (0 picks a free port)")
	flagSet.BoolVar(&opts.json, "json", false, "print results as JSON")
	flagSet.BoolVarP(&opts.version, "version", "v", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	if opts.version {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return exitOK
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return exitUsage
	}
	cmd, ok := lookup(rest[0])
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", rest[0])
		printUsage(stderr, flagSet)
		return exitUsage
	}
	if n := len(rest) - 1; n < cmd.minArgs || n > cmd.maxArgs {
		printCommandUsage(stderr, cmd)
		return exitUsage
	}
	if cmd.name == "activate" && opts.key == "" && len(rest) == 1 {
		printCommandUsage(stderr, cmd)
		return exitUsage
	}

	cfg, err := loadConfig(opts, flagSet, cmd.name == "serve")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	logger, err := newLogger(cfg, opts, stderr, cmd.name == "serve")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Close(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	c := &cli{app: application, stdout: stdout, stderr: stderr, json: opts.json, key: opts.key}
	if err := cmd.run(c, ctx, rest[1:]); err != nil {
		return c.fail(err)
	}
	return exitOK
}

func loadConfig(opts options, flagSet *pflag.FlagSet, daemon bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.root != "" {
		if cfg.License.Root, err = config.ResolveLicenseRoot(opts.root); err != nil {
			return nil, err
		}
	}
	if opts.serverURL != "" {
		cfg.License.ServerURL = opts.serverURL
	}
	if flagSet.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	// one-shot commands exit before a background sync or exporter would run
	if !daemon {
		cfg.License.SyncInterval = 0
		cfg.Telemetry.TracingEnabled = false
		cfg.Telemetry.MetricsEnabled = false
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, opts options, stderr io.Writer, daemon bool) (*slog.Logger, error) {
	if daemon {
		return infrastructure.InitializeLogger(cfg.Logging)
	}
	level := opts.logLevel
	if level == "" {
		level = "error"
	}
	return infrastructure.NewLogger(level, stderr), nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: %s [flags] <command> [args]\n\nCommands:\n", config.AppName)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, cmd := range commands {
		fmt.Fprintf(tw, "  %s %s\t%s\n", cmd.name, cmd.args, cmd.summary)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}

func printCommandUsage(w io.Writer, cmd command) {
	fmt.Fprintf(w, "usage: %s %s %s\n", config.AppName, cmd.name, cmd.args)
}

type cli struct {
	app    *app.Application
	stdout io.Writer
	stderr io.Writer
	json   bool
	key    string
}

func (c *cli) activate(ctx context.Context, args []string) error {
	key := c.key
	if len(args) == 1 {
		key = args[0]
	}
	info, err := c.app.Manager.Activate(ctx, key)
	if err != nil {
		return err
	}
	return c.output(info, func(w io.Writer) {
		fmt.Fprintf(w, "License %s activated.\n\n", info.Key)
		c.printInfo(w, info)
	})
}

func (c *cli) deactivate(ctx context.Context, _ []string) error {
	outcome, err := c.app.Manager.Deactivate(ctx)
	if err != nil {
		return err
	}
	return c.output(outcome, func(w io.Writer) {
		switch {
		case outcome.Offline:
			fmt.Fprintln(w, "License removed from this machine. The license server could not confirm the")
			fmt.Fprintf(w, "deactivation; it is queued and will be sent by `%s sync` or the daemon.\n", config.AppName)
		case outcome.Message != "":
			fmt.Fprintln(w, outcome.Message)
		default:
			fmt.Fprintln(w, "License deactivated.")
		}
	})
}

func (c *cli) validate(ctx context.Context, _ []string) error {
	info, err := c.app.Manager.Validate(ctx)
	if err != nil {
		return err
	}
	return c.output(info, func(w io.Writer) {
		fmt.Fprintln(w, "License is valid.")
		fmt.Fprintln(w)
		c.printInfo(w, info)
	})
}

type statusOutput struct {
	State       license.State             `json:"state"`
	License     *license.Info             `json:"license,omitempty"`
	Degradation license.DegradationStatus `json:"degradation"`
	Pending     bool                      `json:"pendingDeactivation"`
}

func (c *cli) status(_ context.Context, _ []string) error {
	gate := c.app.Gate
	out := statusOutput{
		State:       gate.State(),
		License:     gate.Info(),
		Degradation: gate.DegradationStatus(),
		Pending:     c.app.Manager.Pending().Pending,
	}
	return c.output(out, func(w io.Writer) {
		if out.License != nil {
			c.printInfo(w, out.License)
		} else {
			fmt.Fprintf(w, "State:     %s\n", out.State)
		}
		if out.Degradation.Degraded {
			fmt.Fprintf(w, "\n%s\n", out.Degradation.Reason)
			if out.Degradation.Action != "" {
				fmt.Fprintf(w, "%s\n", out.Degradation.Action)
			}
		}
		if out.Pending {
			fmt.Fprintln(w, "\nA deactivation is waiting to be sent to the license server.")
		}
	})
}

type featuresOutput struct {
	State     license.State           `json:"state"`
	Granted   []string                `json:"granted"`
	Available []string                `json:"available"`
	Features  []license.FeatureStatus `json:"features"`
}

func (c *cli) features(_ context.Context, args []string) error {
	gate := c.app.Gate
	if len(args) == 1 {
		id := args[0]
		if err := gate.Require(id, ""); err != nil {
			return err
		}
		return c.output(license.FeatureStatus{Feature: featureOf(gate, id), Available: true}, func(w io.Writer) {
			fmt.Fprintf(w, "%s is available.\n", id)
		})
	}

	out := featuresOutput{
		State:     gate.State(),
		Granted:   []string{},
		Available: gate.ListAvailable(),
		Features:  gate.ListAll(),
	}
	if info := gate.Info(); info != nil && info.State.Usable() {
		out.Granted = info.Features
	}
	if out.Available == nil {
		out.Available = []string{}
	}
	return c.output(out, func(w io.Writer) {
		fmt.Fprintf(w, "State: %s\n\n", out.State)
		if len(out.Features) == 0 {
			if len(out.Granted) == 0 {
				fmt.Fprintln(w, "No Pro features are unlocked.")
				return
			}
			fmt.Fprintf(w, "Unlocked: %s\n", strings.Join(out.Granted, ", "))
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FEATURE\tNAME\tAVAILABLE")
		for _, f := range out.Features {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f.ID, f.Name, yesNo(f.Available))
		}
		tw.Flush()
	})
}

func featureOf(gate *license.Gate, id string) license.Feature {
	if f, ok := gate.Registry().Get(id); ok {
		return f
	}
	return license.Feature{ID: id, Name: gate.Registry().Name(id)}
}

type syncOutput struct {
	Changed bool `json:"changed"`
	Pending bool `json:"pending"`
}

func (c *cli) sync(ctx context.Context, _ []string) error {
	out := syncOutput{Changed: c.app.Manager.SyncPending(ctx)}
	out.Pending = c.app.Manager.Pending().Pending
	return c.output(out, func(w io.Writer) {
		switch {
		case out.Changed:
			fmt.Fprintln(w, "Pending deactivation sent to the license server.")
		case out.Pending:
			fmt.Fprintln(w, "License server unreachable; the deactivation is still pending.")
		default:
			fmt.Fprintln(w, "Nothing to sync.")
		}
	})
}

func (c *cli) serve(ctx context.Context, _ []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.app.Serve(ctx, nil)
}

func (c *cli) printInfo(w io.Writer, info *license.Info) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", info.State)
	fmt.Fprintf(tw, "Key:\t%s\n", info.Key)
	fmt.Fprintf(tw, "Features:\t%s\n", strings.Join(info.Features, ", "))
	if info.Seats.Max > 0 {
		fmt.Fprintf(tw, "Seats:\t%d of %d\n", info.Seats.Used, info.Seats.Max)
	}
	fmt.Fprintf(tw, "Activated:\t%s\n", info.ActivatedAt.Local().Format(time.DateOnly))
	if info.ExpiresAt != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", info.ExpiresAt.Local().Format(time.DateOnly))
	}
	fmt.Fprintf(tw, "Revalidate by:\t%s (%d days)\n", info.CacheExpiresAt.Local().Format(time.DateOnly), info.DaysRemaining)
	tw.Flush()
}

func (c *cli) output(v any, text func(io.Writer)) error {
	if c.json {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.stdout)
	return nil
}

type errorOutput struct {
	Error   string                           `json:"error"`
	Code    string                           `json:"code,omitempty"`
	Feature *license.FeatureUnavailableError `json:"feature,omitempty"`
}

// fail reports err and picks the exit code
func (c *cli) fail(err error) int {
	code := exitError
	out := errorOutput{Error: err.Error()}

	var fe *license.FeatureUnavailableError
	var apiErr *license.APIError
	var cacheErr *license.CacheError
	switch {
	case errors.As(err, &fe):
		code = exitUnavailable
		out.Code = "FEATURE_UNAVAILABLE"
		out.Feature = fe
	case errors.As(err, &apiErr):
		out.Code = string(apiErr.Code)
	case errors.As(err, &cacheErr):
		out.Code = string(cacheErr.Code)
	case errors.Is(err, license.ErrNotActivated):
		out.Code = "NOT_ACTIVATED"
	case errors.Is(err, license.ErrInvalidKeyFormat):
		out.Code = "INVALID_KEY_FORMAT"
	}

	if c.json {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return code
	}
	if fe != nil {
		fmt.Fprint(c.stderr, fe.CLIMessage())
		return code
	}
	fmt.Fprintf(c.stderr, "error: %v\n", err)
	return code
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
