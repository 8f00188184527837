package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/solatis/tripwire/internal/rules"
	"github.com/solatis/tripwire/internal/types"
)

// maxBodySize caps webhook response bodies.
const maxBodySize = 10 << 20

func (m *Monitor) observeWebhook(ctx context.Context, c *types.Condition) error {
	src := c.Webhook
	url := src.BaseURL + src.Endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: condition %d: %v", types.ErrInvalidCondition, c.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	if src.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+src.APIKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: GET %s: %v", types.ErrRemoteCall, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", types.ErrRemoteCall, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET %s: status %d", types.ErrRemoteCall, url, resp.StatusCode)
	}

	value, err := rules.ResolveJSON(src.ResponsePath, body)
	if err != nil {
		if errors.Is(err, types.ErrPathResolution) {
			return fmt.Errorf("condition %d: %w", c.ID, err)
		}
		return fmt.Errorf("%w: GET %s: %v", types.ErrRemoteCall, url, err)
	}

	return m.checkAgainstExpected(c, value)
}
