package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

type apiClient struct {
	r *resty.Client
}

func newAPIClient(base, token string) *apiClient {
	r := resty.New().
		SetBaseURL(base).
		SetTimeout(3*time.Minute).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "switchctl")
	if token != "" {
		r.SetAuthToken(token)
	}
	return &apiClient{r: r}
}

func (c *apiClient) get(path string, query map[string]string, out io.Writer) error {
	return finish(c.r.R().SetQueryParams(query).Get(path))(out)
}

func (c *apiClient) post(path string, body any, out io.Writer) error {
	req := c.r.R()
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	return finish(req.Post(path))(out)
}

func (c *apiClient) upload(path, file, description string, out io.Writer) error {
	req := c.r.R().SetFile("file", file)
	if description != "" {
		req.SetFormData(map[string]string{"description": description})
	}
	return finish(req.Post(path))(out)
}

type errorBody struct {
	Message string `json:"message"`
}

// finish pretty-prints a JSON reply, or turns an error status into an error
// carrying the server's message.
func finish(resp *resty.Response, err error) func(io.Writer) error {
	return func(out io.Writer) error {
		if err != nil {
			return err
		}
		if resp.IsError() {
			var eb errorBody
			if json.Unmarshal(resp.Body(), &eb) == nil && eb.Message != "" {
				return fmt.Errorf("%s: %s", resp.Status(), eb.Message)
			}
			return fmt.Errorf("%s", resp.Status())
		}
		var buf bytes.Buffer
		if json.Indent(&buf, resp.Body(), "", "  ") != nil {
			_, werr := out.Write(resp.Body())
			return werr
		}
		buf.WriteByte('\n')
		_, werr := buf.WriteTo(out)
		return werr
	}
}
