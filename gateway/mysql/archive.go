// Copyright (c) 2020 Shivaram Lingamneni
// released under the MIT license

// Package mysql is the optional relational backend for the channel
// message archive.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lep/biboumi/gateway/database"
	"github.com/lep/biboumi/gateway/logger"
)

const (
	// maximum length in bytes of a server host or channel name as stored
	MaxTargetLength = 64

	defaultTimeout = 5 * time.Second
)

type Archive struct {
	db     *sql.DB
	logger *logger.Manager
	config Config

	insertLine *sql.Stmt
}

func (m *Archive) Initialize(logger *logger.Manager, config Config) {
	m.logger = logger
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	m.config = config
}

func (m *Archive) Open() (err error) {
	var address string
	if m.config.SocketPath != "" {
		address = fmt.Sprintf("unix(%s)", m.config.SocketPath)
	} else if m.config.Port != 0 {
		address = fmt.Sprintf("tcp(%s:%d)", m.config.Host, m.config.Port)
	}

	m.db, err = sql.Open("mysql", fmt.Sprintf("%s:%s@%s/%s",
		m.config.User, m.config.Password, address, m.config.ArchiveDatabase))
	if err != nil {
		return err
	}

	if err = m.fixSchemas(); err != nil {
		return err
	}
	return m.prepareStatements()
}

func (m *Archive) fixSchemas() (err error) {
	_, err = m.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS muclog (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		server VARBINARY(%[1]d) NOT NULL,
		channel VARBINARY(%[1]d) NOT NULL,
		nick VARBINARY(%[1]d) NOT NULL,
		body BLOB NOT NULL,
		time DATETIME(3) NOT NULL,
		KEY (server, channel, time)
	) CHARSET=ascii COLLATE=ascii_bin;`, MaxTargetLength))
	return
}

func (m *Archive) prepareStatements() (err error) {
	m.insertLine, err = m.db.Prepare(
		`INSERT INTO muclog (server, channel, nick, body, time) VALUES (?, ?, ?, ?, ?);`)
	return
}

func (m *Archive) getTimeout() time.Duration {
	return m.config.Timeout
}

// Record appends one line; satisfies the bridge's Archiver interface.
func (m *Archive) Record(server, channel, nick, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.getTimeout())
	defer cancel()
	_, err := m.insertLine.ExecContext(ctx, server, channel, nick, body, time.Now().UTC())
	if err != nil {
		m.logger.Error("database", "could not insert archive line", err.Error())
	}
	return err
}

// Archive returns up to limit most recent lines for the channel within
// [start, end], oldest first. Zero times disable the bound; limit < 0
// disables the cap.
func (m *Archive) Archive(server, channel string, limit int, start, end time.Time) (lines []database.ArchiveLine, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.getTimeout())
	defer cancel()

	query := `SELECT id, nick, body, time FROM muclog WHERE server = ? AND channel = ?`
	args := []interface{}{server, channel}
	if !start.IsZero() {
		query += ` AND time >= ?`
		args = append(args, start.UTC())
	}
	if !end.IsZero() {
		query += ` AND time <= ?`
		args = append(args, end.UTC())
	}
	query += ` ORDER BY id DESC`
	if limit >= 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		line := database.ArchiveLine{Server: server, Channel: channel}
		if err = rows.Scan(&id, &line.Nick, &line.Body, &line.Time); err != nil {
			return nil, err
		}
		line.ID = strconv.FormatInt(id, 10)
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	// the query walks newest-first; put the window back in order
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

func (m *Archive) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
