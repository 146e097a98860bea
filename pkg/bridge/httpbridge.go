package bridge

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/comx-labs/modemsim/pkg/modemerr"
)

// requestTerminator ends the buffered HTTP request read from the serial
// line: the blank line that follows a request's headers. The Python
// original searched for buf.find(""), which always matches at offset 0
// and can never have been the intended terminator (see spec §9, Open
// Question 1); this is the natural reading of "a terminated request".
const requestTerminator = "\r\n\r\n"

// httpConnectTimeout bounds the outbound TCP dial to the CHTTPACT
// target; the rest of the spec's timeouts are all serial/TCP read
// timeouts, this is the one connect-time bound the source didn't set
// explicitly (it would hang the whole simulator otherwise).
const httpConnectTimeout = 10 * time.Second

const httpReadChunk = 65535

// HttpBridge implements the one-shot CHTTPACT command: read a
// terminated HTTP request from serial, forward it to a remote host, and
// return the reply body on serial.
type HttpBridge struct {
	Serial SerialWriter
}

// PromptReply is written immediately after CHTTPACT's arguments are
// validated, to prompt the host to start sending its request.
const PromptReply = "\r\n+CHTTPACT: REQUEST"

// Act runs CHTTPACT=<args> to completion and returns the final reply to
// write on serial (the "\r\nOK<response>" success form or a
// "\r\n+CHTTPACT ERROR: ..." parameter-error form). Act writes the
// prompt reply itself once the arguments parse; on a parameter error it
// writes nothing and only returns the error reply.
func (h *HttpBridge) Act(args string) (string, error) {
	host, port, err := parseCHTTPACT(args)
	if err != nil {
		return err.(*paramError).reply, nil
	}

	if err := h.Serial.Write([]byte(PromptReply)); err != nil {
		return "", err
	}

	request, err := h.readRequest()
	if err != nil {
		return "", err
	}

	reply, err := h.exchange(host, port, request)
	if err != nil {
		return "", err
	}
	return reply, nil
}

type paramError struct {
	reply string
}

func (e *paramError) Error() string { return e.reply }

// parseCHTTPACT parses `<"host">,<port>` exactly as the source does:
// split on the first comma, strip all leading/trailing quote characters
// off the host, and parse the port as decimal. All four validation
// branches (both bad, host bad, port bad, neither bad) are replicated
// verbatim for serial-protocol fidelity.
func parseCHTTPACT(args string) (string, int, error) {
	parts := strings.SplitN(args, ",", 2)
	var hostRaw, portRaw string
	if len(parts) > 0 {
		hostRaw = parts[0]
	}
	if len(parts) > 1 {
		portRaw = parts[1]
	}

	host := strings.Trim(hostRaw, `"`)
	port, portErr := strconv.Atoi(strings.TrimSpace(portRaw))
	portOK := portErr == nil

	switch {
	case host != "" && portOK:
		return host, port, nil
	case host == "" && !portOK:
		return "", 0, &paramError{reply: fmt.Sprintf("\r\n+CHTTPACT ERROR: incorrect host(%s) and port(%s)", host, portRaw)}
	case host == "":
		return "", 0, &paramError{reply: fmt.Sprintf("\r\n+CHTTPACT ERROR: incorrect host(%s)", host)}
	default:
		return "", 0, &paramError{reply: fmt.Sprintf("\r\n+CHTTPACT ERROR: incorrect port(%s)", portRaw)}
	}
}

// readRequest drains the serial line (decoding as text) until the
// buffered text contains requestTerminator, returning everything up to
// and including it.
func (h *HttpBridge) readRequest() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := h.Serial.DrainAll(true)
		if err != nil {
			return nil, err
		}
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			if idx := bytes.Index(buf, []byte(requestTerminator)); idx >= 0 {
				return buf[:idx+len(requestTerminator)], nil
			}
		}
	}
}

// exchange opens a TCP connection to host:port, sends request verbatim,
// and reads up to one 65535-byte chunk of reply.
func (h *HttpBridge) exchange(host string, port int, request []byte) (string, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, httpConnectTimeout)
	if err != nil {
		return "", modemerr.IO(fmt.Sprintf("connecting to %s", addr), err)
	}
	defer conn.Close()

	if _, err := conn.Write(request); err != nil {
		return "", modemerr.IO("sending HTTP request", err)
	}

	buf := make([]byte, httpReadChunk)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return "", modemerr.IO("reading HTTP reply", err)
	}

	return "\r\nOK" + string(buf[:n]), nil
}
