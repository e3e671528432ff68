package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const probeTimeout = 3 * time.Second

// ProbeStream checks that a camera endpoint is reachable before the capture
// worker pays the ffmpeg startup cost. Plain rtsp endpoints also get an
// OPTIONS handshake; rtsps stops at the TCP dial because the handshake would
// need the TLS layer ffmpeg itself brings.
func ProbeStream(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "554")
	}

	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", host, err)
	}
	defer conn.Close()

	if u.Scheme != "rtsp" {
		return nil
	}

	deadline := time.Now().Add(probeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(conn, "OPTIONS %s RTSP/1.0\r\nCSeq: 1\r\nUser-Agent: ppe-sentinel\r\n\r\n", rawURL); err != nil {
		return fmt.Errorf("send options: %w", err)
	}
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !strings.HasPrefix(status, "RTSP/1.0") {
		return fmt.Errorf("unexpected response %q", strings.TrimSpace(status))
	}
	return nil
}
