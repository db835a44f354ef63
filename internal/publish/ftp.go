// Package publish uploads exported readings to a field-office FTP drop.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/topografia/internal/metrics"
	"github.com/lox/topografia/internal/store"
)

const dialTimeout = 30 * time.Second

// ErrExportNotFound is returned when an archived export id has no row.
var ErrExportNotFound = errors.New("publish: export not found")

// Publisher uploads a named file.
type Publisher interface {
	Publish(ctx context.Context, name string, data []byte) error
}

// FTPPublisher stores files in a directory of an FTP server.
type FTPPublisher struct {
	addr     string
	user     string
	password string
	dir      string
}

func NewFTPPublisher(addr, user, password, dir string) *FTPPublisher {
	if user == "" {
		user = "anonymous"
		password = "anonymous"
	}
	return &FTPPublisher{addr: addr, user: user, password: password, dir: dir}
}

// Publish uploads data as name under the publisher's directory, creating
// missing directories on the way.
func (p *FTPPublisher) Publish(ctx context.Context, name string, data []byte) error {
	conn, err := ftp.Dial(p.addr, ftp.DialWithTimeout(dialTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(p.user, p.password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	for _, dir := range splitDir(p.dir) {
		if err := conn.ChangeDir(dir); err != nil {
			if err := conn.MakeDir(dir); err != nil {
				return fmt.Errorf("ftp mkdir %s: %w", dir, err)
			}
			if err := conn.ChangeDir(dir); err != nil {
				return fmt.Errorf("ftp cd %s: %w", dir, err)
			}
		}
	}

	if err := conn.Stor(path.Base(name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ftp stor %s: %w", name, err)
	}
	log.Printf("publish: uploaded %s (%d bytes) to %s", name, len(data), p.addr)
	return nil
}

// splitDir breaks a remote directory into the segments to walk.
func splitDir(dir string) []string {
	var parts []string
	if strings.HasPrefix(dir, "/") {
		parts = append(parts, "/")
	}
	for _, seg := range strings.Split(dir, "/") {
		if seg != "" && seg != "." {
			parts = append(parts, seg)
		}
	}
	return parts
}

// ExportStore is the part of the store publishing needs.
type ExportStore interface {
	GetExport(id int64) (*store.Export, []byte, error)
	MarkExportPublished(id int64, at time.Time) error
}

// PublishExport uploads an archived export and records when it was sent.
func PublishExport(ctx context.Context, p Publisher, s ExportStore, id int64) error {
	e, payload, err := s.GetExport(id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("export %d: %w", id, ErrExportNotFound)
	}
	if err := p.Publish(ctx, e.Filename, payload); err != nil {
		metrics.ExportsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish export %d: %w", id, err)
	}
	metrics.ExportsPublished.WithLabelValues("ok").Inc()
	return s.MarkExportPublished(id, time.Now())
}
