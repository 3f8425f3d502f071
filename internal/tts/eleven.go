package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("tts unavailable")

// Chunk is one element of an audio stream. Err is set on the terminal
// element when synthesis failed past the retry.
type Chunk struct {
	Audio []byte
	Err   error
}

// Client streams synthesized speech from ElevenLabs over persistent
// keep-alive connections. One client is shared by all sessions; Warm
// establishes a connection at server start so the first sentence does not
// pay the TLS setup.
type Client struct {
	httpc   *http.Client
	apiKey  string
	baseURL string
	voiceID string
	modelID string
}

const firstChunkTimeout = 5 * time.Second

func NewClient(apiKey, baseURL, voiceID, modelID string) *Client {
	return &Client{
		httpc:   &http.Client{Timeout: 0},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		voiceID: voiceID,
		modelID: modelID,
	}
}

// Warm opens a connection into the pool. Failure is non-fatal.
func (c *Client) Warm(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/user", nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return nil
}

// StreamAudio synthesizes text and yields opaque audio chunks on the
// returned channel, which closes when the stream ends or ctx is canceled.
// A transient failure before the first chunk is retried once; after that
// the last element carries ErrUnavailable.
func (c *Client) StreamAudio(ctx context.Context, voiceID, text string) <-chan Chunk {
	if voiceID == "" {
		voiceID = c.voiceID
	}
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		emitted, err := c.attempt(ctx, voiceID, text, out)
		if err == nil || emitted || ctx.Err() != nil {
			return
		}
		log.Printf("[eleven] stream failed, retrying: %v", err)
		metricRetries.Inc()
		if _, err = c.attempt(ctx, voiceID, text, out); err == nil || ctx.Err() != nil {
			return
		}
		log.Printf("[eleven] stream failed after retry: %v", err)
		metricFailures.Inc()
		select {
		case out <- Chunk{Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}:
		case <-ctx.Done():
		}
	}()
	return out
}

func (c *Client) attempt(ctx context.Context, voiceID, text string, out chan<- Chunk) (bool, error) {
	body := map[string]any{"text": text}
	if c.modelID != "" {
		body["model_id"] = c.modelID
	}
	reqBytes, _ := json.Marshal(body)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return false, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	watchdog := time.AfterFunc(firstChunkTimeout, cancel)
	defer watchdog.Stop()

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	emitted := false
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return emitted, nil
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if !emitted {
				watchdog.Stop()
				metricFirstChunkMS.Observe(float64(time.Since(start).Milliseconds()))
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			metricAudioBytes.Add(float64(n))
			select {
			case out <- Chunk{Audio: chunk}:
				emitted = true
			case <-ctx.Done():
				return emitted, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return emitted, nil
			}
			if ctx.Err() != nil {
				return emitted, nil
			}
			if emitted {
				// mid-stream failure after audio went out; do not retry
				return emitted, nil
			}
			return emitted, err
		}
	}
}
