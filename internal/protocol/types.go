package protocol

import (
	"math"
	"time"
)

// BufferSize is the send and receive buffer size used on both ends of a channel.
const BufferSize = 64 << 10

// MaxRequestLine bounds a single encoded request, newline included.
const MaxRequestLine = 16 * BufferSize

// MaxKeepAliveSeconds is the largest keep-alive a time.Duration can hold.
const MaxKeepAliveSeconds = math.MaxInt64 / int64(time.Second)

// Kind identifies what a request asks the server to do.
type Kind string

const (
	KindCompile  Kind = "compile"
	KindPing     Kind = "ping"
	KindShutdown Kind = "shutdown"
)

// Status reports whether a request was handled.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Request is a single client request.
type Request struct {
	ID      string   `json:"id"`
	Kind    Kind     `json:"kind"`
	WorkDir string   `json:"work_dir,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	// KeepAliveSeconds asks the server to stay up at least this long once idle.
	KeepAliveSeconds *int `json:"keep_alive_seconds,omitempty"`
}

// KeepAlive returns the requested keep-alive duration, if any.
func (r Request) KeepAlive() (time.Duration, bool) {
	if r.KeepAliveSeconds == nil {
		return 0, false
	}
	seconds := int64(*r.KeepAliveSeconds)
	if seconds > MaxKeepAliveSeconds {
		seconds = MaxKeepAliveSeconds
	}
	return time.Duration(seconds) * time.Second, true
}

// Response answers a single Request.
type Response struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OK builds a successful response for req.
func OK(req Request, exitCode int, output string) Response {
	return Response{ID: req.ID, Status: StatusOK, ExitCode: exitCode, Output: output}
}

// Errorf builds an error response for req.
func Errorf(req Request, message string) Response {
	return Response{ID: req.ID, Status: StatusError, ExitCode: -1, Error: message}
}
