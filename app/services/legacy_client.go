package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/config"
)

const maxLegacyResponseBytes = 16 << 20

// LegacyClient talks to the external system of record. Every call is bounded by the configured request timeout.
type LegacyClient interface {
	Login(ctx context.Context) (string, error)
	ListAdmins(ctx context.Context, token string, page, pageSize int) ([]dto.LegacyAdmin, error)
	ListSchedules(ctx context.Context, token string) ([]dto.LegacySchedule, error)
	ListAttendance(ctx context.Context, token string, scheduleID string) ([]dto.LegacyAttendance, error)
}

type httpLegacyClient struct {
	cfg     config.LegacyConfig
	baseURL string
	client  *http.Client
}

func NewLegacyClient(cfg config.LegacyConfig) LegacyClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &httpLegacyClient{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

func (c *httpLegacyClient) Login(ctx context.Context) (string, error) {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return "", fmt.Errorf("legacy api credentials not configured")
	}
	payload, err := json.Marshal(dto.LegacyLoginRequest{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	})
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, "/login", nil, "", payload)
	if err != nil {
		return "", fmt.Errorf("legacy login: %w", err)
	}

	var loginResp dto.LegacyLoginResponse
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return "", fmt.Errorf("failed to decode JSON into LegacyLoginResponse: %w", err)
	}
	token := loginResp.BearerToken()
	if token == "" {
		return "", fmt.Errorf("empty legacy access token")
	}
	return token, nil
}

func (c *httpLegacyClient) ListAdmins(ctx context.Context, token string, page, pageSize int) ([]dto.LegacyAdmin, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	body, err := c.do(ctx, http.MethodGet, "/users", q, token, nil)
	if err != nil {
		return nil, fmt.Errorf("list legacy admins page %d: %w", page, err)
	}
	return dto.DecodeLegacyList[dto.LegacyAdmin](body)
}

func (c *httpLegacyClient) ListSchedules(ctx context.Context, token string) ([]dto.LegacySchedule, error) {
	body, err := c.do(ctx, http.MethodGet, "/schedules", nil, token, nil)
	if err != nil {
		return nil, fmt.Errorf("list legacy schedules: %w", err)
	}
	return dto.DecodeLegacyList[dto.LegacySchedule](body)
}

func (c *httpLegacyClient) ListAttendance(ctx context.Context, token string, scheduleID string) ([]dto.LegacyAttendance, error) {
	q := url.Values{}
	q.Set("scheduleId", scheduleID)

	body, err := c.do(ctx, http.MethodGet, "/attendance", q, token, nil)
	if err != nil {
		return nil, fmt.Errorf("list legacy attendance for schedule %s: %w", scheduleID, err)
	}
	return dto.DecodeLegacyList[dto.LegacyAttendance](body)
}

func (c *httpLegacyClient) do(ctx context.Context, method, path string, query url.Values, token string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLegacyResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
