package client

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// stream opens the push connection and reads frames until the transport
// closes or ctx is canceled. It returns the transport error that ended the
// stream.
func (c *Client) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.addSessionCookie(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to the read loop

	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp)
		err := &rejectionError{retryAfter: retryAfter}
		c.onRejected(retryAfter, err)
		return err

	default:
		return fmt.Errorf("stream rejected with status %d", resp.StatusCode)
	}

	c.onOpen()

	// One frame per event: optional "event:" line, "data:" lines, blank
	// line terminator. Comment lines (leading colon) are keepalives.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(eventType, data.String())
			}
			eventType = ""
			data.Reset()

		case strings.HasPrefix(line, ":"):
			// keepalive comment frame

		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}

// dispatch routes one complete frame. The initial untyped "Connected"
// marker is acknowledged and dropped here.
func (c *Client) dispatch(eventType, data string) {
	if eventType == "" {
		if data == "Connected" {
			c.logger.Debug("Stream connected marker received")
			return
		}
		c.logger.Debug("Ignoring untyped frame", "data", data)
		return
	}
	c.handleEvent(eventType, []byte(data))
}

// parseRetryAfter reads the retry hint from a 429, preferring the JSON body
// over the header.
func parseRetryAfter(resp *http.Response) time.Duration {
	var body struct {
		RetryAfter int `json:"retryAfter"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter) * time.Second
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := time.ParseDuration(header + "s"); err == nil {
			return seconds
		}
	}
	return 0
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
