// Package protocol implements the wire framing spec.md §4.3 describes: the
// inline/bulk request parser and the reply encodings §6 specifies. It knows nothing
// about command semantics — callers supply an IsBulk predicate so the parser can tell
// a bulk command's header line from a plain inline one, and commands/server build
// replies out of the encoders below.
package protocol

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/kvdaemon/kvdaemon/internal/bstr"
)

const (
	// MaxInlineLen is the cap on an unframed (no newline yet) inline buffer before the
	// connection is dropped as a protocol error (spec.md §4.3).
	MaxInlineLen = 1024
	// MaxArgs is the number of arguments a request keeps; anything beyond this is
	// silently truncated (spec.md §8 boundary behavior).
	MaxArgs = 16
	// MaxBulkLen is the largest accepted declared bulk body length (spec.md §4.3).
	MaxBulkLen = 1 << 30
)

type protoError string

func (e protoError) Error() string { return string(e) }

// ErrLineTooLong is returned when more than MaxInlineLen bytes accumulate without a
// newline while the client is between commands.
const ErrLineTooLong = protoError("inline request exceeds maximum length")

// ErrBadBulkLength is returned when a bulk command's declared length is negative or
// exceeds MaxBulkLen.
const ErrBadBulkLength = protoError("invalid bulk length")

// Reader incrementally frames requests off a net.Conn, preserving unconsumed bytes
// and the "awaiting bulk body" state (spec.md §4.3's bulklen field) across calls to
// Next so pipelined commands in a single read are each returned in turn.
type Reader struct {
	conn    net.Conn
	buf     []byte
	bulklen int // -1 between commands, per spec.md §3's Client.bulklen contract
	pending []*bstr.Str
	isBulk  func(name string) bool
	scratch [4096]byte
}

// NewReader builds a Reader. isBulk reports whether a lowercased command name takes
// its last argument as a bulk payload (SET, SETNX, RPUSH, LPUSH, ECHO per spec.md §6).
func NewReader(conn net.Conn, isBulk func(name string) bool) *Reader {
	return &Reader{conn: conn, bulklen: -1, isBulk: isBulk}
}

func (r *Reader) fill() error {
	n, err := r.conn.Read(r.scratch[:])
	if n > 0 {
		r.buf = append(r.buf, r.scratch[:n]...)
	}
	if n > 0 && err == io.EOF {
		// a short read that also reports EOF still delivered bytes worth framing.
		return nil
	}
	return err
}

// takeLine removes and returns the next newline-terminated line (CRLF or bare LF
// accepted per spec.md §4.3), without its terminator. ok is false if no full line is
// buffered yet.
func (r *Reader) takeLine() (line []byte, ok bool) {
	idx := -1
	for i, b := range r.buf {
		if b == '\n' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	end := idx
	if end > 0 && r.buf[end-1] == '\r' {
		end--
	}
	line = append([]byte(nil), r.buf[:end]...)
	r.buf = r.buf[idx+1:]
	return line, true
}

func splitInline(line []byte) []*bstr.Str {
	var out []*bstr.Str
	start := -1
	for i := 0; i <= len(line); i++ {
		if i < len(line) && line[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, bstr.New(line[start:i]))
			start = -1
		}
	}
	return out
}

// Next blocks until a full request is framed, returning its arguments (argv[0] is the
// command name). It returns an error (possibly wrapping net.Conn's read error, or one
// of the sentinels above) when the connection should be closed.
func (r *Reader) Next() ([]*bstr.Str, error) {
	for {
		if r.bulklen == -1 {
			line, ok := r.takeLine()
			if !ok {
				if len(r.buf) > MaxInlineLen {
					return nil, ErrLineTooLong
				}
				if err := r.fill(); err != nil {
					return nil, err
				}
				continue
			}
			fields := splitInline(line)
			if len(fields) == 0 {
				continue
			}
			if len(fields) > MaxArgs {
				fields = fields[:MaxArgs]
			}
			name := strings.ToLower(fields[0].String())
			if r.isBulk(name) && len(fields) >= 2 {
				last := fields[len(fields)-1]
				n, err := strconv.Atoi(last.String())
				if err != nil || n < 0 || n > MaxBulkLen {
					return nil, ErrBadBulkLength
				}
				r.pending = fields[:len(fields)-1]
				r.bulklen = n + 2
				continue
			}
			return fields, nil
		}

		if len(r.buf) >= r.bulklen {
			body := r.buf[:r.bulklen-2]
			r.buf = r.buf[r.bulklen:]
			args := append(r.pending, bstr.New(body))
			r.pending = nil
			r.bulklen = -1
			return args, nil
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// --- reply encoders (spec.md §6) ---

// Status renders a status reply, e.g. "+OK\r\n".
func Status(msg string) []byte {
	return []byte("+" + msg + "\r\n")
}

// Error renders an inline error reply: "-ERR <message>\r\n".
func Error(msg string) []byte {
	return []byte("-ERR " + msg + "\r\n")
}

// Integer renders a count/boolean reply, e.g. "3\r\n".
func Integer(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10) + "\r\n")
}

// NilBulk renders the missing-value marker. spec.md §9's Open Question on nil encoding
// is resolved here in favor of the literal "nil\r\n" form observed in the original
// wire traces, rather than a length-prefixed "-1\r\n" (see DESIGN.md).
func NilBulk() []byte {
	return []byte("nil\r\n")
}

// Bulk renders a length-prefixed payload reply.
func Bulk(b []byte) []byte {
	return []byte(fmt.Sprintf("%d\r\n%s\r\n", len(b), b))
}

// BulkTypeError renders a bulk-position type-error reply: a negative length equal to
// -len(msg), followed by msg (spec.md §6).
func BulkTypeError(msg string) []byte {
	return []byte(fmt.Sprintf("-%d\r\n%s\r\n", len(msg), msg))
}

// MultiBulkHeader renders the count line preceding a multi-bulk reply's entries.
func MultiBulkHeader(n int) []byte {
	return []byte(strconv.Itoa(n) + "\r\n")
}
