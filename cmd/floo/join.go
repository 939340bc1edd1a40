package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/dshills/floo/internal/api"
	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/conn"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/host"
	"github.com/dshills/floo/internal/host/fshost"
	"github.com/dshills/floo/internal/outbound"
	"github.com/dshills/floo/internal/registry"
	"github.com/dshills/floo/internal/session"
	"github.com/dshills/floo/internal/telemetry"
	"github.com/dshills/floo/internal/workspace"
)

func runJoin(args []string) error {
	var (
		common    commonFlags
		upload    bool
		transport string
		insecure  bool
		check     bool
	)
	fs := newFlagSet("join", &common)
	fs.BoolVarP(&upload, "upload", "u", false, "share local files missing from the workspace")
	fs.StringVarP(&transport, "transport", "t", "", "tcp or websocket (default from settings)")
	fs.BoolVar(&insecure, "insecure-skip-verify", false, "do not verify the server certificate")
	fs.BoolVar(&check, "check", false, "check that the workspace exists before joining")
	if err := parseFlags(fs, &common, "join [flags] <workspace-url> [dir]", args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return errUsage
	}

	settings, _, err := loadSettings(fs, common.configPath)
	if err != nil {
		return err
	}
	if transport != "" {
		settings.Transport = transport
		if err := settings.Validate(); err != nil {
			return err
		}
	}

	u, err := floourl.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid workspace url %q: %w", fs.Arg(0), err)
	}

	reg, err := registry.Open(registry.DefaultPath())
	if err != nil {
		glog.Warningf("[floo]%s\n", err)
		reg = nil
	}

	dir := resolveDir(fs.Arg(1), u, settings, reg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	root, err := workspace.NewRoot(dir)
	if err != nil {
		return err
	}
	if err := root.Ignore().LoadDir(root.Dir(), ""); err != nil {
		glog.Warningf("[floo]loading ignore files: %s\n", err)
	}

	creds, ok := settings.CredentialsFor(u.Host)
	console := newConsole()
	if !ok && (reg == nil || !reg.AccountCreationDisabled()) {
		console.StatusMessage("No credentials found. Run floo link to link this client to your account.")
	}

	fsh := fshost.New(root, fshost.Options{
		OnHighlight: func(hl host.Highlight) {
			if !hl.Focus {
				return
			}
			rel, _ := root.Rel(hl.Path)
			console.StatusMessage(fmt.Sprintf("%s is looking at %s", hl.Username, rel))
		},
	})
	if err := fsh.Start(); err != nil {
		return err
	}
	defer fsh.Close()

	opts := session.Options{
		URL:          u,
		Root:         root,
		Credentials:  creds,
		ShouldUpload: upload,
		Host:         fsh,
		Dialer:       newDialer(settings.Transport, insecure),
		UI:           console,
		RestoreDelay: settings.RestoreDelay(),
	}
	if reg != nil {
		opts.Registry = reg
	}
	if settings.CrashReports {
		reporter := newReporter(u, creds)
		defer reporter.Wait()
		opts.Reporter = reporter
	}
	client := &api.Client{Credentials: creds}
	if check || settings.CheckWorkspace {
		opts.Checker = client
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := session.New(opts)
	if err := sess.Go(ctx); err != nil {
		return err
	}
	defer sess.Shutdown()
	if ok {
		go checkAccount(ctx, reg, client, u.Host, creds.Username, console)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
			sess.Shutdown()
		case <-sess.Done():
		}
	}()

	repl := &repl{
		actions: sess.Editor(),
		users:   sess.State().Users,
		who:     console.Who,
		run:     fsh,
		root:    root,
		out:     os.Stdout,
	}
	lines := readLines(os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
	for {
		select {
		case <-sess.Done():
			if r := sess.Reason(); r != "shutdown" {
				return fmt.Errorf("session ended: %s", r)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				// Without input, keep syncing until interrupted.
				lines = nil
				continue
			}
			if repl.exec(line) {
				sess.Shutdown()
			}
		}
	}
}

// newReporter sends crash reports to the host serving u.
func newReporter(u floourl.URL, creds config.Credentials) *telemetry.HTTPReporter {
	return &telemetry.HTTPReporter{
		URL:       telemetry.URLFor(u.Host),
		Username:  creds.Username,
		Workspace: u.Owner + "/" + u.Workspace,
		Client:    outbound.ClientName,
		Version:   outbound.ClientVersion,
	}
}

// resolveDir picks the local directory for u: the argument, the directory it
// was last joined into, or a new one under the share dir.
func resolveDir(arg string, u floourl.URL, settings *config.Settings, reg *registry.Registry) string {
	if arg != "" {
		if abs, err := filepath.Abs(arg); err == nil {
			return abs
		}
		return arg
	}
	if reg != nil {
		if dir, ok := reg.Lookup(u); ok {
			return dir
		}
	}
	return filepath.Join(settings.ShareDir, u.Owner, u.Workspace)
}

func newDialer(transport string, insecure bool) conn.Dialer {
	var tlsConfig *tls.Config
	if insecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if transport == config.TransportWebSocket {
		d := conn.WebSocketDialer{}
		if tlsConfig != nil {
			d.Dialer = &websocket.Dialer{
				HandshakeTimeout: conn.DialTimeout,
				TLSClientConfig:  tlsConfig,
			}
		}
		return d
	}
	return conn.TCPDialer{TLSConfig: tlsConfig}
}

// readLines delivers stdin lines until EOF.
func readLines(r io.Reader, prompt bool) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for {
			if prompt {
				fmt.Print("> ")
			}
			if !scanner.Scan() {
				return
			}
			out <- scanner.Text()
		}
	}()
	return out
}
