package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/pkg/api"
)

// TokenSource returns the access token of a tenant session.
type TokenSource interface {
	Token(ctx context.Context, tenantID string) (string, error)
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
}

// NewClient создает новый API клиент. tokens может быть nil для
// запросов без авторизации.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// IssueToken получает токен доступа для пользователя организации
func (c *Client) IssueToken(ctx context.Context, req api.TokenRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := c.doRequest(ctx, "", http.MethodPost, "/api/v1/auth/token", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	return &resp, nil
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) error {
	if err := c.doRequest(ctx, "", http.MethodGet, "/api/v1/health", nil, nil); err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	return nil
}

// CreateDeal создает сделку
func (c *Client) CreateDeal(ctx context.Context, tenantID string, deal models.Deal) (*models.Deal, error) {
	req := api.CreateDealRequest{
		ID:       deal.ID,
		Title:    deal.Title,
		Stage:    string(deal.Stage),
		Currency: deal.Currency,
		OwnerID:  deal.OwnerID,
		Amount:   deal.Amount,
	}

	var resp api.Deal
	if err := c.doRequest(ctx, tenantID, http.MethodPost, "/api/v1/deals", req, &resp); err != nil {
		return nil, fmt.Errorf("create deal request failed: %w", err)
	}
	return toModel(resp), nil
}

// GetDeal получает сделку по идентификатору
func (c *Client) GetDeal(ctx context.Context, tenantID, id string) (*models.Deal, error) {
	var resp api.Deal
	if err := c.doRequest(ctx, tenantID, http.MethodGet, dealPath(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get deal request failed: %w", err)
	}
	return toModel(resp), nil
}

// UpdateDeal изменяет поля сделки, если на сервере все еще baseVersion
func (c *Client) UpdateDeal(ctx context.Context, tenantID, id string, fields map[string]any, baseVersion int64) (*models.Deal, error) {
	req := api.UpdateDealRequest{Fields: fields, BaseVersion: baseVersion}

	var resp api.Deal
	if err := c.doRequest(ctx, tenantID, http.MethodPut, dealPath(id), req, &resp); err != nil {
		return nil, fmt.Errorf("update deal request failed: %w", err)
	}
	return toModel(resp), nil
}

// DeleteDeal удаляет сделку, если на сервере все еще baseVersion
func (c *Client) DeleteDeal(ctx context.Context, tenantID, id string, baseVersion int64) error {
	path := dealPath(id) + "?base_version=" + strconv.FormatInt(baseVersion, 10)
	if err := c.doRequest(ctx, tenantID, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete deal request failed: %w", err)
	}
	return nil
}

// MoveDealStage переводит сделку на другой этап воронки
func (c *Client) MoveDealStage(ctx context.Context, tenantID, id string, from, to models.Stage, baseVersion int64) (*models.Deal, error) {
	req := api.MoveStageRequest{FromStage: string(from), ToStage: string(to), BaseVersion: baseVersion}

	var resp api.Deal
	if err := c.doRequest(ctx, tenantID, http.MethodPost, dealPath(id)+"/stage", req, &resp); err != nil {
		return nil, fmt.Errorf("move deal stage request failed: %w", err)
	}
	return toModel(resp), nil
}

// PushResource отправляет полное состояние или патч ресурса
func (c *Client) PushResource(ctx context.Context, tenantID, key string, req api.PushResourceRequest) (*api.ResourceResponse, error) {
	var resp api.ResourceResponse
	if err := c.doRequest(ctx, tenantID, http.MethodPut, resourcePath(key), req, &resp); err != nil {
		return nil, fmt.Errorf("push resource request failed: %w", err)
	}
	return &resp, nil
}

// FetchResource получает ресурс. При since > 0 сервер может вернуть
// цепочку патчей вместо полного состояния.
func (c *Client) FetchResource(ctx context.Context, tenantID, key string, since int64) (*api.ResourceResponse, error) {
	path := resourcePath(key)
	if since > 0 {
		path += "?since=" + strconv.FormatInt(since, 10)
	}

	var resp api.ResourceResponse
	if err := c.doRequest(ctx, tenantID, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch resource request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, tenantID, method, path string, body, result any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if tenantID != "" && c.tokens != nil {
		token, err := c.tokens.Token(ctx, tenantID)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Message
			if apiErr.Message == "" {
				apiErr.Message = errResp.Error
			}
			apiErr.ServerVersion = errResp.ServerVersion
		}
		return apiErr
	}

	// Декодируем успешный ответ
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// AsError extracts *Error from err.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func dealPath(id string) string {
	return "/api/v1/deals/" + url.PathEscape(id)
}

func resourcePath(key string) string {
	return "/api/v1/resources/" + url.PathEscape(key)
}

func toModel(d api.Deal) *models.Deal {
	return &models.Deal{
		ID:        d.ID,
		TenantID:  d.TenantID,
		Title:     d.Title,
		Stage:     models.Stage(d.Stage),
		Currency:  d.Currency,
		OwnerID:   d.OwnerID,
		Amount:    d.Amount,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
	}
}
