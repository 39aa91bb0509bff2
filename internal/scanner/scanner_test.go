package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

// eicar is the standard antivirus test string.
var eicar = []byte(`X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`)

// fakeClamd accepts one INSTREAM session per connection and answers FOUND
// when the payload contains the EICAR string.
func fakeClamd(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveClamd(conn)
		}
	}()
	return ln.Addr().String()
}

func serveClamd(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	cmd, err := r.ReadString(0)
	if err != nil {
		return
	}
	if cmd == "zPING\x00" {
		conn.Write([]byte("PONG\x00"))
		return
	}

	var payload bytes.Buffer
	var size [4]byte
	for {
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(size[:])
		if n == 0 {
			break
		}
		if _, err := io.CopyN(&payload, r, int64(n)); err != nil {
			return
		}
	}

	if bytes.Contains(payload.Bytes(), eicar) {
		conn.Write([]byte("stream: Eicar-Test-Signature FOUND\x00"))
		return
	}
	conn.Write([]byte("stream: OK\x00"))
}

func TestClamdScanner_Clean(t *testing.T) {
	s := NewClamdScanner(fakeClamd(t), 5*time.Second)

	res, err := s.Scan(context.Background(), bytes.Repeat([]byte("a"), 3*chunkSize+17))
	require.NoError(t, err)
	assert.Equal(t, VerdictClean, res.Verdict)
}

func TestClamdScanner_Infected(t *testing.T) {
	s := NewClamdScanner(fakeClamd(t), 5*time.Second)

	res, err := s.Scan(context.Background(), eicar)
	require.NoError(t, err)
	assert.Equal(t, VerdictInfected, res.Verdict)
	assert.Equal(t, "Eicar-Test-Signature", res.Signature)
}

func TestClamdScanner_Ping(t *testing.T) {
	s := NewClamdScanner(fakeClamd(t), time.Second)
	require.NoError(t, s.Ping(context.Background()))
}

func TestClamdScanner_UnreachableIsRetryable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewClamdScanner(addr, time.Second).Scan(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Retryable(err))
}

func TestParseReply(t *testing.T) {
	res, err := parseReply("stream: OK\x00")
	require.NoError(t, err)
	assert.Equal(t, VerdictClean, res.Verdict)

	_, err = parseReply("INSTREAM size limit exceeded. ERROR\x00")
	require.Error(t, err)
	assert.True(t, errors.Retryable(err))
}
