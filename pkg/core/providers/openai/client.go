package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kestrelvoice/kestrel/pkg/core"
)

// doRequest sends a non-streaming request to OpenAI.
func (p *Provider) doRequest(ctx context.Context, req *chatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}

// apiError is the OpenAI error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// parseError maps an error response to a typed *core.Error.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var oaiErr apiError
	if err := json.Unmarshal(body, &oaiErr); err != nil || oaiErr.Error.Message == "" {
		return &core.Error{
			Type:    core.ErrProvider,
			Message: strings.TrimSpace(string(body)),
		}
	}

	var errType core.ErrorType
	switch resp.StatusCode {
	case http.StatusBadRequest:
		errType = core.ErrInvalidRequest
	case http.StatusUnauthorized:
		errType = core.ErrAuthentication
	case http.StatusForbidden:
		errType = core.ErrPermission
	case http.StatusNotFound:
		errType = core.ErrNotFound
	case http.StatusTooManyRequests:
		errType = core.ErrRateLimit
	case http.StatusServiceUnavailable:
		errType = core.ErrOverloaded
	default:
		if resp.StatusCode >= 500 {
			errType = core.ErrAPI
		} else {
			errType = core.ErrProvider
		}
	}

	cerr := &core.Error{
		Type:      errType,
		Message:   oaiErr.Error.Message,
		RequestID: resp.Header.Get("X-Request-Id"),
	}
	if code, ok := oaiErr.Error.Code.(string); ok {
		cerr.Code = code
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			cerr.RetryAfter = &seconds
		}
	}
	return cerr
}

func (p *Provider) chatCompletionsURL() string {
	return strings.TrimRight(p.baseURL, "/") + chatCompletionsPath
}
