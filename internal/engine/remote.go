package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/config"
)

// remote is one constructed engine handle. Construction performs the
// session-dir setup; MkdirAll keeps it safe to repeat.
type remote struct {
	baseURL    string
	sessionDir string
	cfg        config.ExecConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

func newRemote(baseURL, sessionDir string, cfg config.ExecConfig, client *http.Client, logger zerolog.Logger) (*remote, error) {
	if sessionDir != "" {
		if err := os.MkdirAll(sessionDir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.KindEngine, err, "create session dir %s", sessionDir)
		}
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &remote{
		baseURL:    baseURL,
		sessionDir: sessionDir,
		cfg:        cfg,
		httpClient: client,
		logger:     logger,
	}, nil
}

type rpcResponse struct {
	Result *RunResult `json:"result"`
	Error  *rpcError  `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r *remote) post(ctx context.Context, path string, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngine, err, "encode engine request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngine, err, "build engine request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngine, err, "call coding agent engine")
	}
	return resp, nil
}

// run blocks until the remote engine completes the instruction.
func (r *remote) run(ctx context.Context, sessionID, instruction, workspace string) (RunResult, error) {
	resp, err := r.post(ctx, "/rpc", RunPayload(sessionID, instruction, workspace))
	if err != nil {
		return RunResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return RunResult{}, apperr.New(apperr.KindEngine, "engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RunResult{}, apperr.Wrap(apperr.KindEngine, err, "decode engine response")
	}
	if out.Error != nil {
		return RunResult{}, apperr.New(apperr.KindEngine, "engine run failed: %s", out.Error.Message)
	}
	if out.Result == nil {
		return RunResult{}, apperr.New(apperr.KindEngine, "engine returned no result")
	}
	return *out.Result, nil
}

// stream starts a run and returns its event sequence. The channel is
// closed after the terminal event. Every send races against the context
// so an abandoned stream (consumer never attaches, buffer fills) does
// not pin the goroutine and the response body forever.
func (r *remote) stream(ctx context.Context, sessionID, instruction, workspace string) (<-chan Event, error) {
	resp, err := r.post(ctx, "/rpc/stream", RunPayload(sessionID, instruction, workspace))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apperr.New(apperr.KindEngine, "engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	events := make(chan Event, 16)
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		terminal := false
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				r.logger.Warn().Err(err).Msg("skipping malformed engine event")
				continue
			}
			if ev.SessionID == "" {
				ev.SessionID = sessionID
			}
			if !emit(ev) {
				return
			}
			if ev.Type == EventCompleted || ev.Type == EventError {
				terminal = true
			}
		}
		if err := scanner.Err(); err != nil {
			emit(Event{Type: EventError, SessionID: sessionID, Message: fmt.Sprintf("stream read failed: %v", err)})
			return
		}
		if !terminal {
			emit(Event{Type: EventCompleted, SessionID: sessionID, Message: "stream ended"})
		}
	}()
	return events, nil
}
