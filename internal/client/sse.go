package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"forge/internal/types"
)

// StreamEvents subscribes to a run's event stream. The channel replays the
// retained history first and then carries live events until the run terminates
// or cancel is called.
func (c *Client) StreamEvents(ctx context.Context, id string) (<-chan types.Event, func(), error) {
	if err := c.ensureToken(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+url.PathEscape(id)+"/stream", nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the client's default request timeout.
	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		return nil, nil, decodeAPIError(resp)
	}

	ch := make(chan types.Event, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event types.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, cancel, nil
}

// SendCommand posts a control message on the run's event channel.
func (c *Client) SendCommand(ctx context.Context, id, command string) error {
	msg := types.ControlMessage{Type: types.EventTypeCommand, Command: command}
	return c.doJSON(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(id)+"/stream", msg, true, nil)
}
