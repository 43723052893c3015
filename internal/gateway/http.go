package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HTTPClient talks to one provider family's aggregator endpoint. Requests are
// form encoded and signed; amounts travel as decimal strings.
type HTTPClient struct {
	family      string
	baseURL     string
	merchantID  string
	merchantKey string
	client      *http.Client
}

func NewHTTPClient(family, baseURL, merchantID, merchantKey string) *HTTPClient {
	return &HTTPClient{
		family:      family,
		baseURL:     strings.TrimRight(baseURL, "/"),
		merchantID:  merchantID,
		merchantKey: merchantKey,
		client:      &http.Client{},
	}
}

type launchResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

type withdrawResponse struct {
	Amount decimal.Decimal `json:"amount"`
	Bet    decimal.Decimal `json:"bet"`
	Win    decimal.Decimal `json:"win"`
}

type sessionResponse struct {
	IsActive  bool   `json:"is_active"`
	Family    string `json:"family"`
	GameCode  string `json:"game_code"`
	Status    string `json:"status"`
	LaunchURL string `json:"launch_url"`
	SessionID string `json:"session_id"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (c *HTTPClient) LaunchURL(ctx context.Context, userID int64, gameCode string) (Launch, error) {
	if gameCode == "" {
		return Launch{}, fmt.Errorf("game code required")
	}
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("game_code", gameCode)

	var parsed launchResponse
	if err := c.do(ctx, http.MethodPost, "/games/launch", params, &parsed); err != nil {
		return Launch{}, err
	}
	if parsed.URL == "" {
		return Launch{}, fmt.Errorf("empty launch url")
	}
	return Launch{URL: parsed.URL, SessionID: parsed.SessionID}, nil
}

func (c *HTTPClient) Deposit(ctx context.Context, userID int64, family string, amount int64) error {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("family", family)
	params.Set("amount", FormatAmount(amount))
	return c.do(ctx, http.MethodPost, "/wallet/deposit", params, nil)
}

func (c *HTTPClient) Withdraw(ctx context.Context, userID int64, family string) (Withdrawal, error) {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("family", family)

	var parsed withdrawResponse
	if err := c.do(ctx, http.MethodPost, "/wallet/withdraw", params, &parsed); err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{
		Amount: ToCents(parsed.Amount),
		Bet:    ToCents(parsed.Bet),
		Win:    ToCents(parsed.Win),
	}, nil
}

func (c *HTTPClient) ActiveSession(ctx context.Context, userID int64) (ActiveSession, error) {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))

	var parsed sessionResponse
	if err := c.do(ctx, http.MethodGet, "/session", params, &parsed); err != nil {
		return ActiveSession{}, err
	}
	family := parsed.Family
	if family == "" {
		family = c.family
	}
	return ActiveSession{
		IsActive:  parsed.IsActive,
		Family:    family,
		GameCode:  parsed.GameCode,
		Status:    parsed.Status,
		LaunchURL: parsed.LaunchURL,
		SessionID: parsed.SessionID,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}

	var body io.Reader
	switch method {
	case http.MethodGet:
		u.RawQuery = params.Encode()
	case http.MethodPost:
		body = strings.NewReader(params.Encode())
	default:
		return fmt.Errorf("unsupported method %s", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range c.signedHeaders(params) {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *HTTPClient) signedHeaders(params url.Values) map[string]string {
	headers := map[string]string{
		"X-Merchant-Id": c.merchantID,
		"X-Timestamp":   strconv.FormatInt(time.Now().Unix(), 10),
		"X-Nonce":       uuid.NewString(),
	}
	merged := map[string]string{}
	for key, values := range params {
		if len(values) > 0 {
			merged[key] = values[0]
		}
	}
	for key, value := range headers {
		merged[key] = value
	}
	headers["X-Sign"] = BuildSign(merged, c.merchantKey)
	return headers
}

func parseAPIError(status int, raw []byte) error {
	var parsed apiError
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if strings.EqualFold(parsed.Error.Code, "insufficient_funds") {
			return ErrInsufficientFunds
		}
		if parsed.Error.Code != "" || parsed.Error.Message != "" {
			return fmt.Errorf("provider error %s: %s", parsed.Error.Code, parsed.Error.Message)
		}
		if parsed.Message != "" {
			return fmt.Errorf("provider error %d: %s", status, parsed.Message)
		}
	}
	return fmt.Errorf("provider error %d: %s", status, strings.TrimSpace(string(raw)))
}

func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func ToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
