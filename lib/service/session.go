// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/warden-bot/warden/lib/secret"
	"github.com/warden-bot/warden/messaging"
)

// SessionFileName is the file warden-login writes into the state
// directory.
const SessionFileName = "session.json"

// ErrSessionMismatch is returned by ValidateSession when the access
// token authenticates a different account than the session file names.
var ErrSessionMismatch = errors.New("service: access token belongs to another account")

// SessionFile is the on-disk form of the bot's Matrix login.
type SessionFile struct {
	HomeserverURL string `json:"homeserver_url"`
	UserID        string `json:"user_id"`
	DeviceID      string `json:"device_id,omitempty"`
	AccessToken   string `json:"access_token"`
}

func (f SessionFile) check() error {
	var problems []error
	if f.AccessToken == "" {
		problems = append(problems, errors.New("empty access token"))
	}
	if !strings.HasPrefix(f.UserID, "@") || !strings.Contains(f.UserID, ":") {
		problems = append(problems, fmt.Errorf("invalid user_id %q", f.UserID))
	}
	return errors.Join(problems...)
}

// ReadSessionFile parses stateDir/session.json. A file readable by group
// or others is still accepted but logged, since it holds the bot's
// access token.
func ReadSessionFile(stateDir string, logger *slog.Logger) (SessionFile, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := filepath.Join(stateDir, SessionFileName)
	info, err := os.Stat(path)
	if err != nil {
		return SessionFile{}, fmt.Errorf("reading session: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		logger.Warn("session file is readable by other users", "path", path, "mode", fmt.Sprintf("%#o", mode))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return SessionFile{}, fmt.Errorf("reading session: %w", err)
	}
	var file SessionFile
	err = json.Unmarshal(raw, &file)
	secret.Zero(raw)
	if err != nil {
		return SessionFile{}, fmt.Errorf("parsing session %s: %w", path, err)
	}
	if err := file.check(); err != nil {
		return SessionFile{}, fmt.Errorf("session file %s: %w", path, err)
	}
	return file, nil
}

// LoadSession builds an authenticated client from the session file.
// homeserverOverride, when set, replaces the stored homeserver URL. The
// caller must Close the returned session.
func LoadSession(stateDir, homeserverOverride string, logger *slog.Logger) (*messaging.Client, *messaging.DirectSession, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	file, err := ReadSessionFile(stateDir, logger)
	if err != nil {
		return nil, nil, err
	}
	homeserver := file.HomeserverURL
	if homeserverOverride != "" {
		homeserver = homeserverOverride
	}
	if homeserver == "" {
		return nil, nil, fmt.Errorf("session file in %s has no homeserver_url and none was configured", stateDir)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: homeserver, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("creating matrix client: %w", err)
	}
	session, err := client.SessionFromToken(file.UserID, file.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("loaded bot session", "user_id", file.UserID, "homeserver", homeserver, "device_id", file.DeviceID)
	return client, session, nil
}

// SaveSession replaces stateDir/session.json with session's credentials.
// The file is written owner-only to a temporary name and renamed into
// place, so a failed login never leaves a truncated session behind.
func SaveSession(stateDir, homeserverURL string, session *messaging.DirectSession) error {
	encoded, err := json.MarshalIndent(SessionFile{
		HomeserverURL: homeserverURL,
		UserID:        session.UserID(),
		DeviceID:      session.DeviceID(),
		AccessToken:   session.AccessToken(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	defer secret.Zero(encoded)

	temp, err := os.CreateTemp(stateDir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	tempPath := temp.Name()
	defer os.Remove(tempPath)

	if err := temp.Chmod(0o600); err != nil {
		temp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if _, err := temp.Write(encoded); err != nil {
		temp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tempPath, filepath.Join(stateDir, SessionFileName)); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// ValidateSession asks the homeserver who owns the token and returns
// that user ID. Call it once at startup.
func ValidateSession(ctx context.Context, session messaging.Session) (string, error) {
	userID, err := session.WhoAmI(ctx)
	if err != nil {
		return "", fmt.Errorf("validating matrix session: %w", err)
	}
	if userID != session.UserID() {
		return "", fmt.Errorf("%w: session file names %s, homeserver says %s", ErrSessionMismatch, session.UserID(), userID)
	}
	return userID, nil
}
