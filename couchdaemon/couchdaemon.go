// Package couchdaemon provides utilities for processes running
// as a CouchDB os_daemon.
package couchdaemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// TODO: the implementation is a bit hard to test due to the
// globals, but I don't feel like changing that.

// ErrNotInitialized is returned by the API functions when Init has
// not yet been called.
var ErrNotInitialized = errors.New("couchdaemon: not initialized")

// ErrNotFound is returned by ConfigVal and ConfigSection when the
// requested configuration key or section does not exist.
var ErrNotFound = errors.New("couchdaemon: not found")

var (
	mu          sync.Mutex
	initialized bool
	stdin       io.Closer

	reqchan  = make(chan request)
	ackchan  = make(chan error)
	respchan = make(chan []byte)
)

type request struct {
	query    []interface{}
	readresp bool
}

// Init configures stdin and stdout for communication with couchdb.
//
// The argument can be a writable channel or nil.
// If it is nil, the process will exit with status 0
// when CouchDB signals that is exiting by closing stdin.
// If it is a channel, the channel will be closed instead.
//
// You should call this function early in your initialization.
// Using stdio after Init has been called will confuse the
// implementation and should therefore be avoided.
// You should also refrain from calling Init more than once.
//
// Until Init has been called, the other API functions return
// ErrNotInitialized instead of blocking.
func Init(exit chan<- bool) {
	if exit == nil {
		start(os.Stdin, os.Stdout, func() { os.Exit(0) })
	} else {
		start(os.Stdin, os.Stdout, func() { close(exit) })
	}
}

// The tests use this function to check everything without using stdio.
func start(in io.ReadCloser, out io.Writer, exit func()) {
	mu.Lock()
	stdin = in
	initialized = true
	reqchan = make(chan request)
	reqs := reqchan
	mu.Unlock()

	go writeloop(out, reqs)
	go readloop(in, exit)
}

// requests returns the request channel of the most recent start and
// whether start has been called at all.
func requests() (chan<- request, bool) {
	mu.Lock()
	defer mu.Unlock()
	return reqchan, initialized
}

// call sends a request that expects a response line back from
// CouchDB (a "get" query).
func call(query []interface{}) ([]byte, error) {
	reqs, ok := requests()
	if !ok {
		return nil, ErrNotInitialized
	}
	reqs <- request{query: query, readresp: true}
	if err := <-ackchan; err != nil {
		return nil, err
	}
	return <-respchan, nil
}

// send sends a fire-and-forget request (a "log" query) and waits for
// it to have been written.
func send(query []interface{}) error {
	reqs, ok := requests()
	if !ok {
		return ErrNotInitialized
	}
	reqs <- request{query: query}
	return <-ackchan
}

// ConfigVal fetches a single value from the couchdb configuration.
// It returns ErrNotFound if the key does not exist.
func ConfigVal(section, key string) (string, error) {
	data, err := call([]interface{}{"get", section, key})
	if err != nil {
		return "", err
	}
	var val *string
	if err := json.Unmarshal(data, &val); err != nil {
		return "", fmt.Errorf("couchdaemon: couldn't decode config value for %s.%s: %v", section, key, err)
	}
	if val == nil {
		return "", ErrNotFound
	}
	return *val, nil
}

// ConfigSection fetches all key/value pairs of a configuration
// section. It returns ErrNotFound if the section does not exist.
func ConfigSection(section string) (map[string]string, error) {
	data, err := call([]interface{}{"get", section})
	if err != nil {
		return nil, err
	}
	var val map[string]string
	if err := json.Unmarshal(data, &val); err != nil {
		return nil, fmt.Errorf("couchdaemon: couldn't decode config section %s: %v", section, err)
	}
	if val == nil {
		return nil, ErrNotFound
	}
	return val, nil
}

// ServerURL returns the base URL of the local CouchDB server, derived
// from the "httpd" configuration section.
func ServerURL() (string, error) {
	section, err := ConfigSection("httpd")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%s/", section["bind_address"], section["port"]), nil
}

// LogWriter writes messages to the CouchDB log. The zero value is not
// usable; create one with NewLogWriter.
type LogWriter struct{}

// NewLogWriter creates a writer that outputs to the CouchDB log.
//
// The returned writer is threadsafe and therefore suitable as an
// input to log.SetOutput().
func NewLogWriter() *LogWriter {
	return &LogWriter{}
}

// Write logs msg at CouchDB's default log level. It implements io.Writer.
func (l *LogWriter) Write(msg []byte) (int, error) {
	line := bytes.TrimRight(msg, "\n")
	if err := send([]interface{}{"log", string(line)}); err != nil {
		return 0, err
	}
	return len(msg), nil
}

func (l *LogWriter) logAt(level, msg string) error {
	return send([]interface{}{"log", msg, map[string]string{"level": level}})
}

// Err logs msg at the "error" level.
func (l *LogWriter) Err(msg string) error { return l.logAt("error", msg) }

// Info logs msg at the "info" level.
func (l *LogWriter) Info(msg string) error { return l.logAt("info", msg) }

// Debug logs msg at the "debug" level.
func (l *LogWriter) Debug(msg string) error { return l.logAt("debug", msg) }

// Logger adapts a LogWriter to any interface requiring a single
// Printf(format string, args ...interface{}) method, such as
// couchdb.Logger. The zero value is not usable; create one with
// NewLogger.
type Logger struct {
	w *LogWriter
}

// NewLogger creates a Logger that writes formatted messages to the
// CouchDB log at the "info" level, for use as a couchdb.Config.Logger.
func NewLogger() *Logger {
	return &Logger{w: NewLogWriter()}
}

// Printf formats its arguments per fmt.Sprintf and writes the result
// to the CouchDB log at the "info" level, silently discarding any
// error since callers of this interface have no way to observe one.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.w.Info(fmt.Sprintf(format, args...))
}

func writeloop(stdout io.Writer, reqs <-chan request) {
	out := json.NewEncoder(stdout)
	for req := range reqs {
		ackchan <- out.Encode(req.query)
	}
}

func readloop(stdin io.Reader, exit func()) {
	in := bufio.NewReader(stdin)
	for {
		line, err := in.ReadBytes('\n')
		if err != nil {
			break
		}
		respchan <- line
	}
	exit()
}
