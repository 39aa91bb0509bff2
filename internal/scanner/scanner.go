// Package scanner talks to a clamd daemon over its INSTREAM protocol.
package scanner

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

// Verdict is the outcome of a scan.
type Verdict string

const (
	VerdictClean    Verdict = "CLEAN"
	VerdictInfected Verdict = "INFECTED"
)

// Result carries the verdict and, for infected content, the matched signature.
type Result struct {
	Verdict   Verdict
	Signature string
}

// chunkSize stays well under clamd's default StreamMaxLength chunking limits.
const chunkSize = 64 << 10

// ClamdScanner scans payloads on a clamd TCP endpoint. A new connection is
// used per scan; clamd closes INSTREAM sessions after replying.
type ClamdScanner struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// NewClamdScanner creates a scanner for addr (host:port).
func NewClamdScanner(addr string, timeout time.Duration) *ClamdScanner {
	return &ClamdScanner{addr: addr, timeout: timeout}
}

// Scan streams data to clamd. Connection and protocol failures are returned
// as retryable errors; a verdict is only returned when clamd produced one.
func (s *ClamdScanner) Scan(ctx context.Context, data []byte) (Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return Result{}, errors.Unavailable(err, "malware scanner unreachable")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeStream(conn, data); err != nil {
		return Result{}, errors.Unavailable(err, "malware scan failed")
	}

	reply, err := bufio.NewReader(conn).ReadString(0)
	if err != nil && reply == "" {
		return Result{}, errors.Unavailable(err, "malware scanner returned no verdict")
	}
	return parseReply(reply)
}

// Ping checks that clamd answers.
func (s *ClamdScanner) Ping(ctx context.Context) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return errors.Unavailable(err, "malware scanner unreachable")
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return errors.Unavailable(err, "malware scanner ping failed")
	}
	reply, err := bufio.NewReader(conn).ReadString(0)
	if err != nil && reply == "" {
		return errors.Unavailable(err, "malware scanner ping failed")
	}
	if strings.TrimRight(reply, "\x00\n") != "PONG" {
		return errors.Unavailable(fmt.Errorf("unexpected reply %q", reply), "malware scanner ping failed")
	}
	return nil
}

func writeStream(conn net.Conn, data []byte) error {
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString("zINSTREAM\x00"); err != nil {
		return err
	}

	var size [4]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		binary.BigEndian.PutUint32(size[:], uint32(end-off))
		if _, err := w.Write(size[:]); err != nil {
			return err
		}
		if _, err := w.Write(data[off:end]); err != nil {
			return err
		}
	}

	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	return w.Flush()
}

// parseReply understands "stream: OK", "stream: <sig> FOUND" and "<msg> ERROR".
func parseReply(reply string) (Result, error) {
	line := strings.TrimSpace(strings.TrimRight(reply, "\x00"))
	_, status, ok := strings.Cut(line, ": ")
	if !ok {
		status = line
	}

	switch {
	case status == "OK":
		return Result{Verdict: VerdictClean}, nil
	case strings.HasSuffix(status, " FOUND"):
		return Result{Verdict: VerdictInfected, Signature: strings.TrimSuffix(status, " FOUND")}, nil
	default:
		return Result{}, errors.Unavailable(fmt.Errorf("clamd: %s", line), "malware scan failed")
	}
}

// Disabled reports every payload clean. It is used when scanning is switched
// off in configuration.
type Disabled struct{}

func (Disabled) Scan(context.Context, []byte) (Result, error) {
	return Result{Verdict: VerdictClean}, nil
}
