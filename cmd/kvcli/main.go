// Binary kvcli is a convenience line-protocol REPL client for driving a running
// kvdaemon server over TCP, analogous to redis-cli. It is not part of the wire
// protocol surface spec.md defines; the server's own inline parser still splits on
// plain single spaces with no quoting (spec.md §4.3). Here, github.com/buildkite/
// shellwords only splits what the human typed at this REPL's prompt, so a value
// containing spaces can be quoted locally before being sent as separate bulk/inline
// arguments — mirroring game/wizcommands.go's identical use of shellwords to split
// admin command lines.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/buildkite/shellwords"
	"golang.org/x/term"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewReader(conn)

	for {
		if interactive {
			fmt.Fprintf(os.Stdout, "%s> ", *addr)
		}
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		parts, err := shellwords.SplitPosix(line)
		if err != nil || len(parts) == 0 {
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			continue
		}
		if err := sendRequest(conn, parts); err != nil {
			fmt.Fprintf(os.Stderr, "write error: %v\n", err)
			return
		}
		reply, err := readReply(out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			return
		}
		fmt.Fprint(os.Stdout, reply)
		if strings.EqualFold(parts[0], "quit") {
			return
		}
	}
}

// sendRequest writes one request using the inline-or-bulk framing spec.md §4.3
// describes: for the commands isLikelyBulkCommand names (SET, SETNX, RPUSH, LPUSH,
// ECHO), given at least one argument, the last argument is sent as a bulk payload
// whatever its content; every other request goes out as a single inline line.
func sendRequest(conn net.Conn, parts []string) error {
	if len(parts) >= 2 && isLikelyBulkCommand(parts[0]) {
		head := strings.Join(parts[:len(parts)-1], " ")
		payload := parts[len(parts)-1]
		_, err := fmt.Fprintf(conn, "%s %d\r\n%s\r\n", head, len(payload), payload)
		return err
	}
	_, err := fmt.Fprintf(conn, "%s\r\n", strings.Join(parts, " "))
	return err
}

func isLikelyBulkCommand(name string) bool {
	switch strings.ToLower(name) {
	case "set", "setnx", "rpush", "lpush", "echo":
		return true
	default:
		return false
	}
}

// readReply reads exactly one reply off the wire. It does not attempt full protocol
// decoding (that is the server's job to produce, not this client's to validate); it
// reads one line, then any further bytes a bulk/multi-bulk reply declares.
func readReply(r *bufio.Reader) (string, error) {
	var out strings.Builder
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	out.WriteString(line)
	trimmed := strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(trimmed, "+"), strings.HasPrefix(trimmed, "-ERR"):
		return out.String(), nil
	case trimmed == "nil":
		return out.String(), nil
	default:
		// an integer, a bulk length, a multi-bulk count, or a bulk type-error length;
		// only bulk/multi-bulk declare more bytes to follow, which we can't
		// distinguish from a bare integer reply without the command table, so we
		// optimistically treat any further immediately-available bytes as part of
		// the same reply and stop once the connection has nothing buffered.
		for r.Buffered() > 0 {
			b, err := r.ReadByte()
			if err != nil {
				break
			}
			out.WriteByte(b)
		}
		return out.String(), nil
	}
}
