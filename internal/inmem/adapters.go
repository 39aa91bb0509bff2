package inmem

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/scanner"
)

// ObjectStore keeps blobs in memory. Setting PutErr makes every Put fail.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	PutErr  error
	puts    int
}

// NewObjectStore creates an empty object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (o *ObjectStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.puts++
	if o.PutErr != nil {
		return o.PutErr
	}
	o.objects[key] = append([]byte(nil), data...)
	o.types[key] = contentType
	return nil
}

func (o *ObjectStore) GetStream(_ context.Context, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, errors.NotFound("object", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *ObjectStore) Copy(_ context.Context, srcKey, dstKey string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[srcKey]
	if !ok {
		return errors.NotFound("object", srcKey)
	}
	o.objects[dstKey] = append([]byte(nil), data...)
	o.types[dstKey] = o.types[srcKey]
	return nil
}

func (o *ObjectStore) Remove(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	delete(o.types, key)
	return nil
}

// Has reports whether key holds an object.
func (o *ObjectStore) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (o *ObjectStore) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// Puts returns the number of Put calls, including failed ones.
func (o *ObjectStore) Puts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.puts
}

// Scanner returns a fixed verdict, or Err when set.
type Scanner struct {
	mu      sync.Mutex
	Verdict scanner.Verdict
	Err     error
	calls   int
}

// NewScanner creates a scanner that reports everything clean.
func NewScanner() *Scanner {
	return &Scanner{Verdict: scanner.VerdictClean}
}

func (s *Scanner) Scan(context.Context, []byte) (scanner.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil {
		return scanner.Result{}, s.Err
	}
	res := scanner.Result{Verdict: s.Verdict}
	if s.Verdict == scanner.VerdictInfected {
		res.Signature = "Test-Signature"
	}
	return res, nil
}

// SetVerdict changes the verdict returned by later scans.
func (s *Scanner) SetVerdict(v scanner.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Verdict = v
}

// Calls returns the number of scans performed.
func (s *Scanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Message is one notification captured by Notifier.
type Message struct {
	Recipients []string
	Subject    string
	Body       string
}

// Notifier records sent notifications. Setting Err makes Send fail after
// recording the attempt.
type Notifier struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (n *Notifier) Send(_ context.Context, recipients []string, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Message{
		Recipients: append([]string(nil), recipients...),
		Subject:    subject,
		Body:       body,
	})
	return n.Err
}

// Sent returns a copy of the recorded notifications.
func (n *Notifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}
