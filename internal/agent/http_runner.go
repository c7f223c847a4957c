package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/stream"
)

const maxErrorBodyBytes = 4096

// HTTPRunner posts a turn to a remote generator and decodes its NDJSON reply.
type HTTPRunner struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewHTTPRunner(name, baseURL string, timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRunner) Run(ctx context.Context, in RunInput, emit EmitFunc) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal run input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", stream.ContentType)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s runner request: %w", r.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("%s runner returned status %d: %s", r.name, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	dec := stream.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s runner stream: %w", r.name, err)
		}

		switch frame.Type {
		case stream.FrameMessage:
			emit(frame.Event, Message{Role: frame.Role, Content: frame.Content})
		case stream.FrameError:
			return fmt.Errorf("%s runner: %s", r.name, frame.Error)
		}
	}

	log.Debug().
		Str("runner", r.name).
		Str("conversationId", in.ConversationID).
		Dur("elapsed", time.Since(start)).
		Msg("runner turn completed")
	return nil
}
