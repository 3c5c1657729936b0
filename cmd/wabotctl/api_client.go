package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wabot-gateway/internal/model"
	"wabot-gateway/internal/service"

	"github.com/pkg/errors"
)

// APIError is a non-2xx answer of a control or admin endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s", e.StatusCode, e.Message)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

type apiResponse struct {
	OK         bool                `json:"ok"`
	Message    string              `json:"message"`
	Code       string              `json:"code"`
	Error      string              `json:"error"`
	QRArtifact string              `json:"qrArtifact"`
	Receipt    *service.Receipt    `json:"receipt"`
	Session    *model.SessionView  `json:"session"`
	Sessions   []model.SessionView `json:"sessions"`
}

// Client talks to one session's control port or to the admin API.
type Client struct {
	BaseURL string
	Token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var res apiResponse
		_ = json.Unmarshal(raw, &res)
		if res.Message == "" {
			res.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Code: res.Code, Message: res.Message, Detail: res.Error}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode response")
}

func (c *Client) Status(ctx context.Context) (model.StatusResponse, error) {
	var out model.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// QR returns the pending pairing artifact, or "" when the session has none.
func (c *Client) QR(ctx context.Context) (string, error) {
	var out apiResponse
	if err := c.do(ctx, http.MethodGet, "/qr", nil, &out); err != nil {
		return "", err
	}
	return out.QRArtifact, nil
}

func (c *Client) SendMessage(ctx context.Context, address, body string) (service.Receipt, error) {
	var out apiResponse
	err := c.do(ctx, http.MethodPost, "/send-message", map[string]string{
		"address": address,
		"body":    body,
	}, &out)
	if err != nil {
		return service.Receipt{}, err
	}
	if out.Receipt == nil {
		return service.Receipt{}, errors.New("response carries no receipt")
	}
	return *out.Receipt, nil
}

func (c *Client) SendMedia(ctx context.Context, address, mediaURL, caption string) (service.Receipt, error) {
	var out apiResponse
	err := c.do(ctx, http.MethodPost, "/send-media", map[string]string{
		"address":  address,
		"mediaUrl": mediaURL,
		"caption":  caption,
	}, &out)
	if err != nil {
		return service.Receipt{}, err
	}
	if out.Receipt == nil {
		return service.Receipt{}, errors.New("response carries no receipt")
	}
	return *out.Receipt, nil
}

func (c *Client) Sessions(ctx context.Context) ([]model.SessionView, error) {
	var out apiResponse
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out)
	return out.Sessions, err
}

func (c *Client) StartSession(ctx context.Context, id string) (model.SessionView, error) {
	var out apiResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/start", nil, &out); err != nil {
		return model.SessionView{}, err
	}
	if out.Session == nil {
		return model.SessionView{}, errors.New("response carries no session")
	}
	return *out.Session, nil
}

func (c *Client) StopSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/stop", nil, nil)
}
