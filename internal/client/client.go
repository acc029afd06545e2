// Package client talks to the relay's streaming endpoint and exposes the
// decoded event stream to callers. A Simulated implementation serves the
// same interface without any network access.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nirmal91/omni-ask/internal/adapter/relay"
	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
)

// StreamRequest is the wire request sent to the relay.
type StreamRequest struct {
	Provider            string        `json:"provider"`
	Question            string        `json:"question"`
	ConversationHistory []domain.Turn `json:"conversationHistory,omitempty"`
}

// Opener opens one answer stream for one provider. Implementations must
// deliver at most one terminal event and close the channel after it.
type Opener interface {
	Open(ctx context.Context, req StreamRequest) (<-chan domain.StreamEvent, error)
}

// HTTP streams answers through a running relay.
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTP returns a relay client for the given configuration.
func NewHTTP(cfg config.ClientConfig) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(cfg.ProxyURL, "/"),
		token:   cfg.Token,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        8,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Open implements Opener. The returned channel carries decoded events
// until a terminal event or the end of the response body.
func (c *HTTP) Open(ctx context.Context, req StreamRequest) (<-chan domain.StreamEvent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.WrapOp("client.Open", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapOp("client.Open", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: relay status %d", domain.ErrUpstreamHTTP, resp.StatusCode)
	}

	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			ev, err := relay.DecodeFrame([]byte(data))
			if err != nil {
				// Malformed records are noise, not failure. Skip and
				// keep reading.
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- domain.ErrorEvent("stream read failed: " + err.Error()):
			case <-ctx.Done():
			}
			return
		}
		// Body ended without a terminal frame. Treat as a clean finish.
		select {
		case ch <- domain.Done():
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

var _ Opener = (*HTTP)(nil)
