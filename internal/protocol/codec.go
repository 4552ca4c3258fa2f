package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidRequest marks a line that parsed badly or failed validation.
var ErrInvalidRequest = errors.New("invalid request")

// ErrInvalidResponse marks a response line that parsed badly or failed validation.
var ErrInvalidResponse = errors.New("invalid response")

// Encode writes v as a single JSON line.
func Encode(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// DecodeRequest reads the next request line from r.
//
// io.EOF is returned untouched when the stream ends cleanly between messages;
// a stream that ends in the middle of a line yields io.ErrUnexpectedEOF. A
// line longer than MaxRequestLine is skipped and reported as ErrInvalidRequest.
func DecodeRequest(r *bufio.Reader) (Request, error) {
	line, err := readLine(r, MaxRequestLine)
	if errors.Is(err, errLineTooLong) {
		return Request{}, fmt.Errorf("%w: line exceeds %d bytes", ErrInvalidRequest, MaxRequestLine)
	}
	if err != nil {
		return Request{}, err
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// Validate checks the fields a server relies on.
func (r Request) Validate() error {
	switch r.Kind {
	case KindCompile, KindPing, KindShutdown:
	case "":
		return fmt.Errorf("%w: missing kind", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	if r.KeepAliveSeconds != nil {
		switch seconds := int64(*r.KeepAliveSeconds); {
		case seconds < 0:
			return fmt.Errorf("%w: keep_alive_seconds must not be negative", ErrInvalidRequest)
		case seconds > MaxKeepAliveSeconds:
			return fmt.Errorf("%w: keep_alive_seconds must be at most %d", ErrInvalidRequest, MaxKeepAliveSeconds)
		}
	}
	return nil
}

// DecodeResponse reads the next response line from r.
func DecodeResponse(r *bufio.Reader) (Response, error) {
	line, err := readLine(r, 0)
	if err != nil {
		return Response{}, err
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	switch resp.Status {
	case StatusOK:
	case StatusError:
		if resp.Error == "" {
			return resp, fmt.Errorf("%w: status=error without message", ErrInvalidResponse)
		}
	default:
		return resp, fmt.Errorf("%w: status %q", ErrInvalidResponse, resp.Status)
	}
	return resp, nil
}

var errLineTooLong = errors.New("line too long")

// readLine returns the next newline-terminated line. With a positive limit, a
// longer line is consumed through its newline without being kept and
// errLineTooLong is returned, leaving r at the start of the next line.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if limit > 0 && len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return nil, errLineTooLong
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 && !tooLong {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}
