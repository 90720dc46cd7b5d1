// Package ftpsink uploads completed CSV exports to a remote FTP archive
// (supplemental: several industrial sites still standardise on FTP
// drop-boxes for compliance archival rather than accepting pushes over
// HTTP).
package ftpsink

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jlaffaye/ftp"
)

// Sink uploads byte buffers to a fixed remote directory on one FTP
// server.
type Sink struct {
	addr     string
	user     string
	pass     string
	remoteDir string
}

func New(addr, user, pass, remoteDir string) *Sink {
	return &Sink{addr: addr, user: user, pass: pass, remoteDir: remoteDir}
}

// Upload dials, authenticates, stores data under name in remoteDir, and
// disconnects. Each call opens a fresh connection since exports are
// infrequent (manual or daily), not worth pooling.
func (s *Sink) Upload(name string, data []byte) error {
	conn, err := ftp.Dial(s.addr, ftp.DialWithTimeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("ftpsink: dial %s: %w", s.addr, err)
	}
	defer conn.Quit()

	if err := conn.Login(s.user, s.pass); err != nil {
		return fmt.Errorf("ftpsink: login: %w", err)
	}

	if s.remoteDir != "" {
		if err := conn.ChangeDir(s.remoteDir); err != nil {
			return fmt.Errorf("ftpsink: cd %s: %w", s.remoteDir, err)
		}
	}

	if err := conn.Stor(name, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ftpsink: store %s: %w", name, err)
	}
	return nil
}
