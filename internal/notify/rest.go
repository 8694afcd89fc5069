package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

func newRESTClient(baseURL string, timeout time.Duration) *resty.Client {
	c := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if baseURL != "" {
		c.SetBaseURL(baseURL)
	}
	return c
}

// postJSON posts body and treats any non-2xx response as a failure.
func postJSON(ctx context.Context, req *resty.Request, path string, body any) error {
	resp, err := req.SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
