package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
	"github.com/dani-farcas/autoDocOrganizer/internal/security"
)

// statusError is a non-2xx answer from a service.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

func isClientError(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests
}

// postJSON sends body as JSON and decodes the answer into out. Errors are
// ErrExternalService with any credential removed from the message.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, scanner *security.SecretScanner) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.ErrExternalService.WithCause(errors.New(scanner.Redact(err.Error())))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.ErrExternalService.WithCause(errors.New(scanner.Redact(err.Error())))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.ErrExternalService.WithCause(&statusError{
			Status: resp.StatusCode,
			Body:   scanner.Redact(strings.TrimSpace(string(data))),
		})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.ErrExternalService.WithMessage("failed to decode response").WithCause(err)
	}
	return nil
}
