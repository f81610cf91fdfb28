// released under the MIT license

// Package database persists per-user preferences and the channel
// message archive in a buntdb file, guarded by a lock file so two
// gateway processes cannot share one datastore.
package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/buntdb"

	"github.com/lep/biboumi/gateway/utils"
)

const (
	// key layouts; every piece is space-free by protocol
	keyGlobalOptions  = "options.global %s"
	keyServerOptions  = "options.server %s %s"
	keyChannelOptions = "options.channel %s %s %s"
	keyArchivePrefix  = "archive %s %s "

	archiveTimeLayout = "2006-01-02T15:04:05.000000000"
)

var (
	ErrCouldntAcquireLock = errors.New("Couldn't acquire datastore lock (is another biboumi running?)")
)

// GlobalOptions are per-owner defaults inherited by narrower scopes.
type GlobalOptions struct {
	MaxHistoryLength int    `json:"max-history-length"`
	EncodingIn       string `json:"encoding-in,omitempty"`
	EncodingOut      string `json:"encoding-out,omitempty"`
}

// ServerOptions are per-(owner, server) settings.
type ServerOptions struct {
	Ports            []string `json:"ports,omitempty"`
	TLSPorts         []string `json:"tls-ports,omitempty"`
	Fingerprint      string   `json:"fingerprint,omitempty"`
	Nick             string   `json:"nick,omitempty"`
	Username         string   `json:"username,omitempty"`
	Realname         string   `json:"realname,omitempty"`
	MaxHistoryLength int      `json:"max-history-length"`
	EncodingIn       string   `json:"encoding-in,omitempty"`
	EncodingOut      string   `json:"encoding-out,omitempty"`
}

// ChannelOptions are per-(owner, server, channel) settings.
type ChannelOptions struct {
	MaxHistoryLength int    `json:"max-history-length"`
	EncodingIn       string `json:"encoding-in,omitempty"`
	EncodingOut      string `json:"encoding-out,omitempty"`
}

// ArchiveLine is one stored channel message.
type ArchiveLine struct {
	ID      string    `json:"id"`
	Server  string    `json:"server"`
	Channel string    `json:"channel"`
	Nick    string    `json:"nick"`
	Body    string    `json:"body"`
	Time    time.Time `json:"time"`
}

// Store wraps the buntdb handle and the process lock on it.
type Store struct {
	db   *buntdb.DB
	lock *flock.Flock
}

// Open acquires the datastore lock and opens (creating if necessary)
// the database file.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	success, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !success {
		return nil, ErrCouldntAcquireLock
	}
	db, err := buntdb.Open(path)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &Store{db: db, lock: lock}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.Unlock()
	return err
}

func (s *Store) get(key string, value interface{}) bool {
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), value)
	})
	return err == nil
}

func (s *Store) set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), nil)
		return err
	})
}

// GlobalOptions fetches the per-owner defaults; a missing row yields
// the zero options.
func (s *Store) GlobalOptions(owner string) (options GlobalOptions) {
	s.get(fmt.Sprintf(keyGlobalOptions, owner), &options)
	return
}

func (s *Store) SetGlobalOptions(owner string, options GlobalOptions) error {
	return s.set(fmt.Sprintf(keyGlobalOptions, owner), options)
}

func (s *Store) ServerOptions(owner, server string) (options ServerOptions) {
	s.get(fmt.Sprintf(keyServerOptions, owner, server), &options)
	return
}

func (s *Store) SetServerOptions(owner, server string, options ServerOptions) error {
	return s.set(fmt.Sprintf(keyServerOptions, owner, server), options)
}

func (s *Store) ChannelOptions(owner, server, channel string) (options ChannelOptions) {
	s.get(fmt.Sprintf(keyChannelOptions, owner, server, channel), &options)
	return
}

func (s *Store) SetChannelOptions(owner, server, channel string, options ChannelOptions) error {
	return s.set(fmt.Sprintf(keyChannelOptions, owner, server, channel), options)
}

// ChannelOptionsWithDefaults resolves the effective channel options:
// empty fields inherit from the server scope, then the global scope.
func (s *Store) ChannelOptionsWithDefaults(owner, server, channel string) ChannelOptions {
	coptions := s.ChannelOptions(owner, server, channel)
	soptions := s.ServerOptions(owner, server)
	goptions := s.GlobalOptions(owner)

	if coptions.EncodingIn == "" {
		coptions.EncodingIn = soptions.EncodingIn
	}
	if coptions.EncodingOut == "" {
		coptions.EncodingOut = soptions.EncodingOut
	}
	if coptions.EncodingIn == "" {
		coptions.EncodingIn = goptions.EncodingIn
	}
	if coptions.EncodingOut == "" {
		coptions.EncodingOut = goptions.EncodingOut
	}
	if coptions.MaxHistoryLength == 0 {
		coptions.MaxHistoryLength = soptions.MaxHistoryLength
	}
	if coptions.MaxHistoryLength == 0 {
		coptions.MaxHistoryLength = goptions.MaxHistoryLength
	}
	return coptions
}

// Record appends one channel message to the archive. Satisfies the
// bridge's Archiver interface.
func (s *Store) Record(server, channel, nick, body string) error {
	line := ArchiveLine{
		ID:      utils.GenerateUUIDv4().String(),
		Server:  server,
		Channel: channel,
		Nick:    nick,
		Body:    body,
		Time:    time.Now().UTC(),
	}
	raw, err := json.Marshal(line)
	if err != nil {
		return err
	}
	// fixed-width UTC timestamps keep lexicographic key order
	// chronological
	key := fmt.Sprintf(keyArchivePrefix+"%s %s", server, channel,
		line.Time.Format(archiveTimeLayout), line.ID)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), nil)
		return err
	})
}

// Archive returns up to limit most recent lines for the channel within
// [start, end], oldest first. Zero times disable the bound; limit < 0
// disables the cap.
func (s *Store) Archive(server, channel string, limit int, start, end time.Time) (lines []ArchiveLine, err error) {
	prefix := fmt.Sprintf(keyArchivePrefix, server, channel)
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var line ArchiveLine
			if json.Unmarshal([]byte(value), &line) != nil {
				return true
			}
			if !start.IsZero() && line.Time.Before(start) {
				return true
			}
			if !end.IsZero() && line.Time.After(end) {
				return true
			}
			lines = append(lines, line)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}
