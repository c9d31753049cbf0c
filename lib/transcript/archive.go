// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"filippo.io/age"
	"github.com/dustin/go-humanize"
	"github.com/zeebo/blake3"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/ticket"
)

// sealedExtension marks archives encrypted to age recipients.
const sealedExtension = ".age"

// digestDomainKey separates transcript digests from any other BLAKE3
// use. It is the ASCII domain name zero-padded to 32 bytes; changing it
// renames every future archive.
var digestDomainKey = [32]byte{
	'w', 'a', 'r', 'd', 'e', 'n', '.', 't', 'r', 'a', 'n', 's', 'c', 'r', 'i', 'p',
	't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Config configures an Archiver.
type Config struct {
	// Dir receives archive files. Required.
	Dir string

	Compression Compression

	// Recipients are age public keys (age1...). When set, every archive
	// is sealed and only the matching identities can read it.
	Recipients []string

	// Platform posts close notices. Optional; without it, or without
	// LogChannel, Archive only writes files.
	Platform chat.Platform

	// LogChannel receives a notice for each archived ticket.
	LogChannel string

	// AdminChannel receives notices for staff reports instead of
	// LogChannel, when set.
	AdminChannel string

	Logger *slog.Logger
}

// Archiver writes closed-ticket transcripts to disk. It implements
// ticket.Archiver.
type Archiver struct {
	config     Config
	recipients []age.Recipient
	logger     *slog.Logger
}

var _ ticket.Archiver = (*Archiver)(nil)

// Record describes one archive file.
type Record struct {
	Path     string
	Digest   string
	Size     int
	Messages int
	Sealed   bool
}

// New validates config and returns an Archiver.
func New(config Config) (*Archiver, error) {
	if config.Dir == "" {
		return nil, errors.New("transcript: Dir is required")
	}
	compression, err := ParseCompression(string(config.Compression))
	if err != nil {
		return nil, err
	}
	config.Compression = compression

	recipients := make([]age.Recipient, 0, len(config.Recipients))
	for _, key := range config.Recipients {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("transcript: parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{config: config, recipients: recipients, logger: config.Logger}, nil
}

// Archive writes the transcript and posts a close notice.
func (a *Archiver) Archive(ctx context.Context, transcript ticket.Transcript) error {
	record, err := a.Write(transcript)
	if err != nil {
		return err
	}
	a.logger.Info("ticket transcript archived",
		"channel", transcript.Channel,
		"ticket_id", transcript.CreatedID.String(),
		"path", record.Path,
		"size", record.Size,
		"sealed", record.Sealed,
	)

	target := a.noticeChannel(transcript.Type)
	if a.config.Platform == nil || target == "" {
		return nil
	}
	if _, err := a.config.Platform.SendMessage(ctx, target, chat.Outgoing{Body: Notice(transcript, record)}); err != nil {
		return fmt.Errorf("transcript: posting close notice for %s: %w", transcript.Name, err)
	}
	return nil
}

func (a *Archiver) noticeChannel(ticketType ticket.Type) string {
	if ticketType == ticket.StaffReport && a.config.AdminChannel != "" {
		return a.config.AdminChannel
	}
	return a.config.LogChannel
}

// Notice is the message posted to the log channel for an archived
// ticket.
func Notice(transcript ticket.Transcript, record Record) string {
	var notice strings.Builder
	fmt.Fprintf(&notice, "%s ticket %s opened by %s was closed", transcript.Type.Title(), transcript.Name, transcript.Requester)
	if transcript.ClosedBy != "" {
		fmt.Fprintf(&notice, " by %s", transcript.ClosedBy)
	}
	if !transcript.ClosedAt.IsZero() {
		fmt.Fprintf(&notice, " at %s", archiveTime(transcript.ClosedAt))
	}
	fmt.Fprintf(&notice, ". %d messages archived as %s (%s)",
		record.Messages, filepath.Base(record.Path), humanize.Bytes(uint64(record.Size)))
	if record.Sealed {
		notice.WriteString(", sealed")
	}
	notice.WriteString(".")
	return notice.String()
}

// Write renders, compresses and optionally seals transcript, then
// stores it atomically. Writing an identical transcript again replaces
// the file with the same name.
func (a *Archiver) Write(transcript ticket.Transcript) (Record, error) {
	page, err := Render(transcript)
	if err != nil {
		return Record{}, err
	}
	digest := Digest(page)

	payload, err := compress(page, a.config.Compression)
	if err != nil {
		return Record{}, fmt.Errorf("transcript: compressing %s: %w", transcript.Name, err)
	}
	name := fileName(transcript.Name, digest) + ".html" + a.config.Compression.Extension()

	sealed := len(a.recipients) > 0
	if sealed {
		payload, err = a.seal(payload)
		if err != nil {
			return Record{}, fmt.Errorf("transcript: sealing %s: %w", transcript.Name, err)
		}
		name += sealedExtension
	}

	path := filepath.Join(a.config.Dir, name)
	if err := writeAtomic(path, payload); err != nil {
		return Record{}, err
	}
	return Record{
		Path:     path,
		Digest:   digest,
		Size:     len(payload),
		Messages: len(transcript.Messages),
		Sealed:   sealed,
	}, nil
}

func (a *Archiver) seal(payload []byte) ([]byte, error) {
	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, a.recipients...)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return sealed.Bytes(), nil
}

// Digest is the hex keyed BLAKE3 digest of a rendered page.
func Digest(page []byte) string {
	hasher, err := blake3.NewKeyed(digestDomainKey[:])
	if err != nil {
		panic("transcript: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(page)
	return hex.EncodeToString(hasher.Sum(nil))
}

var unsafeNameCharacters = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func fileName(ticketName, digest string) string {
	base := unsafeNameCharacters.ReplaceAllString(ticketName, "_")
	if base == "" {
		base = "ticket"
	}
	return base + "-" + digest[:24]
}

func writeAtomic(path string, data []byte) error {
	file, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("transcript: creating temporary file: %w", err)
	}
	temporary := file.Name()
	defer os.Remove(temporary)

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("transcript: writing %s: %w", temporary, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("transcript: syncing %s: %w", temporary, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("transcript: closing %s: %w", temporary, err)
	}
	if err := os.Rename(temporary, path); err != nil {
		return fmt.Errorf("transcript: renaming into %s: %w", path, err)
	}
	return nil
}

// Purge deletes every archive in Dir and returns how many were removed.
// Temporary files of archives still being written are left alone.
func (a *Archiver) Purge() (int, error) {
	entries, err := os.ReadDir(a.config.Dir)
	if err != nil {
		return 0, fmt.Errorf("transcript: listing %s: %w", a.config.Dir, err)
	}
	var (
		removed int
		freed   uint64
	)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.Contains(name, ".html") {
			continue
		}
		info, err := entry.Info()
		if err == nil {
			freed += uint64(info.Size())
		}
		if err := os.Remove(filepath.Join(a.config.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("transcript: removing %s: %w", name, err)
		}
		removed++
	}
	a.logger.Info("transcript archives purged", "dir", a.config.Dir, "files", removed, "freed", humanize.Bytes(freed))
	return removed, nil
}

// ReadArchive returns the HTML page stored at path. Sealed archives
// need at least one matching identity.
func ReadArchive(path string, identities ...age.Identity) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: reading %s: %w", path, err)
	}

	name := filepath.Base(path)
	if trimmed, ok := strings.CutSuffix(name, sealedExtension); ok {
		if len(identities) == 0 {
			return nil, fmt.Errorf("transcript: %s is sealed and no identity was given", name)
		}
		reader, err := age.Decrypt(bytes.NewReader(data), identities...)
		if err != nil {
			return nil, fmt.Errorf("transcript: unsealing %s: %w", name, err)
		}
		if data, err = io.ReadAll(reader); err != nil {
			return nil, fmt.Errorf("transcript: unsealing %s: %w", name, err)
		}
		name = trimmed
	}

	compression := CompressionNone
	switch filepath.Ext(name) {
	case CompressionZstd.Extension():
		compression = CompressionZstd
	case CompressionLZ4.Extension():
		compression = CompressionLZ4
	}
	return decompress(data, compression)
}
