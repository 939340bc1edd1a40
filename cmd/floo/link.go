package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"golang.org/x/term"

	"github.com/dshills/floo/internal/api"
	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/registry"
	"github.com/dshills/floo/internal/session"
)

func runLink(args []string) error {
	var (
		common    commonFlags
		hostName  string
		transport string
		insecure  bool
	)
	fs := newFlagSet("link", &common)
	fs.StringVar(&hostName, "host", "", "host to link with (default from settings)")
	fs.StringVarP(&transport, "transport", "t", "", "tcp or websocket (default from settings)")
	fs.BoolVar(&insecure, "insecure-skip-verify", false, "do not verify the server certificate")
	if err := parseFlags(fs, &common, "link [flags]", args); err != nil {
		return err
	}

	settings, loader, err := loadSettings(fs, common.configPath)
	if err != nil {
		return err
	}
	if hostName == "" {
		hostName = settings.DefaultHost
	}
	if transport == "" {
		transport = settings.Transport
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console := newConsole()
	creds, err := session.Link(ctx, session.LinkOptions{
		URL:    floourl.New(hostName, "", "", 0, true),
		Dialer: newDialer(transport, insecure),
		UI:     console,
		Save: func(host string, c config.Credentials) error {
			settings.SetCredentials(host, c)
			return loader.Save(settings)
		},
	})
	if err != nil {
		return err
	}
	console.StatusMessage(fmt.Sprintf("Credentials saved to %s.", loader.Path()))
	recordAccount(ctx, hostName, creds)
	return nil
}

// recordAccount notes in the registry whether the linked account was created
// on the user's behalf.
func recordAccount(ctx context.Context, hostName string, creds config.Credentials) {
	reg, err := registry.Open(registry.DefaultPath())
	if err != nil {
		glog.Warningf("[floo]%s\n", err)
		return
	}
	client := &api.Client{Credentials: creds}
	user, err := client.User(ctx, hostName)
	if err != nil {
		glog.V(1).Infof("[floo]fetching user error = %s\n", err)
		return
	}
	reg.SetAutoGeneratedAccount(user.AutoCreated)
	if err := reg.Save(); err != nil {
		glog.Warningf("[floo]saving registry error = %s\n", err)
	}
}

func runAuth(args []string) error {
	var (
		common   commonFlags
		hostName string
		creds    config.Credentials
	)
	fs := newFlagSet("auth", &common)
	fs.StringVar(&hostName, "host", "", "host the credentials are for (default from settings)")
	fs.StringVar(&creds.Username, "username", "", "account username")
	fs.StringVar(&creds.APIKey, "api-key", "", "account api key")
	if err := parseFlags(fs, &common, "auth [flags]", args); err != nil {
		return err
	}

	settings, loader, err := loadSettings(fs, common.configPath)
	if err != nil {
		return err
	}
	if hostName == "" {
		hostName = settings.DefaultHost
	}

	secret, err := readSecret()
	if err != nil {
		return err
	}
	creds.Secret = secret
	if !creds.Complete() {
		return fmt.Errorf("a secret and a username or api key are required")
	}
	settings.SetCredentials(hostName, creds)
	if err := loader.Save(settings); err != nil {
		return err
	}
	fmt.Printf("Credentials for %s saved to %s.\n", hostName, loader.Path())
	return nil
}

// readSecret prompts for the secret without echo on a terminal, and reads a
// single line otherwise.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Secret: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runRecent(args []string) error {
	var common commonFlags
	fs := newFlagSet("recent", &common)
	if err := parseFlags(fs, &common, "recent", args); err != nil {
		return err
	}
	reg, err := registry.Open(registry.DefaultPath())
	if err != nil {
		return err
	}
	for _, e := range reg.Recent() {
		fmt.Printf("%s\t%s\n", e.URL, e.Path)
	}
	return nil
}
