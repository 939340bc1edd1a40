// Package main is the entry point for floo, a headless collaborative
// workspace client.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/presence"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errUsage marks a command line mistake; usage has been printed.
var errUsage = errors.New("usage")

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

func commands() []command {
	return []command{
		{"join", "join a workspace and sync it into a local directory", runJoin},
		{"link", "link this client to your account through a browser", runLink},
		{"auth", "store credentials for a host", runAuth},
		{"recent", "list recently joined workspaces", runRecent},
		{"version", "print version information", runVersion},
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return 0
	}
	for _, c := range commands() {
		if c.name != args[0] {
			continue
		}
		err := c.run(args[1:])
		glog.Flush()
		switch {
		case err == nil:
			return 0
		case errors.Is(err, errUsage):
			return 2
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
	printUsage()
	return 2
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "floo - collaborative workspace client\n\n")
	fmt.Fprintf(os.Stderr, "Usage: floo <command> [flags] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands() {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  floo link                                       Link to your account\n")
	fmt.Fprintf(os.Stderr, "  floo join https://floobits.com/acme/proj         Join into the default share dir\n")
	fmt.Fprintf(os.Stderr, "  floo join --upload https://floobits.com/acme/proj .  Share the current directory\n")
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	help       bool
}

func newFlagSet(name string, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&common.configPath, "config", "c", config.DefaultPath(), "path to the settings file")
	fs.BoolVarP(&common.help, "help", "h", false, "show help")
	// glog registers -v, -logtostderr and friends on the standard flag set.
	fs.AddGoFlagSet(flag.CommandLine)
	return fs
}

// parseFlags parses args and reports whether the command should continue.
func parseFlags(fs *pflag.FlagSet, common *commonFlags, usage string, args []string) error {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: floo %s\n\nFlags:\n", usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errUsage
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return errUsage
	}
	if common.help {
		fs.Usage()
		return errUsage
	}
	// glog checks that the standard flag set was parsed.
	_ = flag.CommandLine.Parse(nil)
	return nil
}

// loadSettings reads the settings file and applies its log level unless -v
// was given on the command line.
func loadSettings(fs *pflag.FlagSet, path string) (*config.Settings, *config.Loader, error) {
	loader := config.NewLoader(path)
	settings, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if !fs.Changed("v") && settings.LogLevel > 0 {
		_ = flag.Set("v", strconv.Itoa(settings.LogLevel))
	}
	return settings, loader, nil
}

func newConsole() *presence.Console {
	theme := presence.DefaultTheme
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		theme = presence.Theme{}
	}
	return presence.NewConsole(os.Stdout, theme)
}

func runVersion([]string) error {
	fmt.Printf("floo %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Built: %s\n", date)
	return nil
}
