// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-login logs the bot account in to the homeserver once and
// writes session.json for the warden daemon. The password never touches
// disk: it is read from the terminal (or a file) into guarded memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/warden-bot/warden/lib/secret"
	"github.com/warden-bot/warden/lib/service"
	"github.com/warden-bot/warden/lib/version"
	"github.com/warden-bot/warden/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		homeserverURL string
		stateDir      string
		passwordFile  string
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("warden-login", pflag.ContinueOnError)
	flagSet.StringVar(&homeserverURL, "homeserver", "http://localhost:8008", "Matrix homeserver URL")
	flagSet.StringVar(&stateDir, "state-dir", "", "directory to write session.json into (required)")
	flagSet.StringVar(&passwordFile, "password-file", "", `read the password from a file ("-" for stdin) instead of prompting`)
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: warden-login [flags] <username>\n\n%s", flagSet.FlagUsages())
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("warden-login %s\n", version.Info())
		return nil
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return errors.New("exactly one username is required")
	}
	if stateDir == "" {
		return errors.New("--state-dir is required")
	}
	username := flagSet.Arg(0)

	password, err := readPassword(passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		Logger:        slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}

	session, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer session.Close()

	userID, err := service.ValidateSession(ctx, session)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", stateDir, err)
	}
	if err := service.SaveSession(stateDir, homeserverURL, session); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Logged in as %s\n", userID)
	fmt.Fprintf(os.Stderr, "Session saved to %s/session.json\n", stateDir)
	return nil
}

// readPassword reads from passwordFile when set, otherwise prompts on
// the terminal with echo disabled.
func readPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFile(passwordFile)
	}

	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return nil, errors.New("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	defer secret.Zero(passwordBytes)
	if len(passwordBytes) == 0 {
		return nil, errors.New("empty password")
	}
	return secret.NewFromBytes(passwordBytes)
}
