package ecare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"recharge-core/internal/metrics"
)

// Service names understood by the ECARE HTTP API.
const (
	serviceRecharge  = "recharge"
	serviceStatus    = "status"
	serviceBalance   = "balance"
	serviceOfferPack = "offer_pack"
)

// Terminal classifies a provider status response.
type Terminal string

const (
	TerminalNone    Terminal = "none"
	TerminalSuccess Terminal = "success"
	TerminalFailed  Terminal = "failed"
)

// Client provides typed access to the ECARE top-up API. Every call is a
// synchronous GET with a fixed timeout; transport failures and non-2xx
// responses surface as errors and are treated as "provider unreachable" by
// callers.
type Client struct {
	logger     *slog.Logger
	baseURL    string
	accessID   string
	accessPass string
	http       *http.Client
	metrics    *metrics.Metrics
}

// Config holds ECARE client configuration.
type Config struct {
	BaseURL    string
	AccessID   string
	AccessPass string
	Timeout    time.Duration
}

// New creates a new ECARE client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:     logger.With("component", "ecare"),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accessID:   cfg.AccessID,
		accessPass: cfg.AccessPass,
		http:       &http.Client{Timeout: timeout},
		metrics:    metricRegistry,
	}
}

// rechargeEnvelope mirrors ECARE's uppercase response shape for submit and
// status calls.
type rechargeEnvelope struct {
	Status         string `json:"STATUS"`
	RechargeStatus string `json:"RECHARGE_STATUS"`
	TrxID          string `json:"TRXID"`
	RechargeTrxID  string `json:"RECHARGE_TRXID"`
	Message        string `json:"MESSAGE"`
}

// SubmitResult reports the provider's synchronous answer to a top-up
// submission.
type SubmitResult struct {
	Accepted      bool
	RawStatus     string
	ProviderTrxID string
	Message       string
}

// Submit requests a top-up. Accepted is true only when the provider
// acknowledged the request and queued it for processing.
func (c *Client) Submit(ctx context.Context, operator, numberType, phone string, amount float64, refid string) (*SubmitResult, error) {
	params := url.Values{}
	params.Set("operator", operator)
	params.Set("number_type", numberType)
	params.Set("number", phone)
	params.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	params.Set("refid", refid)

	var env rechargeEnvelope
	if err := c.call(ctx, serviceRecharge, params, &env); err != nil {
		return nil, err
	}

	return &SubmitResult{
		Accepted:      env.Status == "OK" && env.RechargeStatus == "RECEIVED",
		RawStatus:     env.RechargeStatus,
		ProviderTrxID: env.TrxID,
		Message:       env.Message,
	}, nil
}

// StatusResult reports the provider's view of a submitted top-up.
type StatusResult struct {
	Terminal              Terminal
	RawStatus             string
	ProviderRechargeTrxID string
	Message               string
}

// Status checks the provider state for a refid.
func (c *Client) Status(ctx context.Context, refid string) (*StatusResult, error) {
	params := url.Values{}
	params.Set("refid", refid)

	var env rechargeEnvelope
	if err := c.call(ctx, serviceStatus, params, &env); err != nil {
		return nil, err
	}

	terminal := TerminalNone
	switch env.RechargeStatus {
	case "SUCCESS":
		terminal = TerminalSuccess
	case "FAILED":
		terminal = TerminalFailed
	}

	return &StatusResult{
		Terminal:              terminal,
		RawStatus:             env.RechargeStatus,
		ProviderRechargeTrxID: env.RechargeTrxID,
		Message:               env.Message,
	}, nil
}

// BalanceResult carries the merchant float balances.
type BalanceResult struct {
	MainBalance    float64
	StockBalance   float64
	CommissionType string
	CommissionRate string
	Message        string
}

// Balance retrieves the merchant float balance.
func (c *Client) Balance(ctx context.Context) (*BalanceResult, error) {
	var env struct {
		Status         string `json:"STATUS"`
		MainBalance    string `json:"MAIN_BALANCE"`
		StockBalance   string `json:"STOCK_BALANCE"`
		CommissionType string `json:"COMMISSION_TYPE"`
		CommissionRate string `json:"COMMISSION_RATE"`
		Message        string `json:"MESSAGE"`
	}
	if err := c.call(ctx, serviceBalance, url.Values{}, &env); err != nil {
		return nil, err
	}
	if env.Status != "OK" {
		return nil, fmt.Errorf("ecare balance: %s", nonEmpty(env.Message, "request rejected"))
	}

	return &BalanceResult{
		MainBalance:    parseAmount(env.MainBalance),
		StockBalance:   parseAmount(env.StockBalance),
		CommissionType: env.CommissionType,
		CommissionRate: env.CommissionRate,
		Message:        env.Message,
	}, nil
}

// RawOffer is one drive-offer entry exactly as the provider groups it under
// its operator key.
type RawOffer struct {
	Operator         string `json:"_operator"`
	NumberType       string `json:"_number_type"`
	OfferType        string `json:"_offer_type"`
	MinutePack       string `json:"_minute_pack"`
	InternetPack     string `json:"_internet_pack"`
	SMSPack          string `json:"_sms_pack"`
	CallratePack     string `json:"_callrate_pack"`
	Validity         string `json:"_validity"`
	Amount           string `json:"_amount"`
	CommissionAmount string `json:"_commission_amount"`
	Status           string `json:"_status"`
}

// OfferPackResult holds the raw per-operator offer catalogue.
type OfferPackResult struct {
	Groups  map[string][]RawOffer
	Message string
}

// OfferPack fetches the active drive-offer catalogue grouped by operator.
func (c *Client) OfferPack(ctx context.Context) (*OfferPackResult, error) {
	var raw map[string]json.RawMessage
	if err := c.call(ctx, serviceOfferPack, url.Values{}, &raw); err != nil {
		return nil, err
	}

	var status, message string
	if v, ok := raw["STATUS"]; ok {
		_ = json.Unmarshal(v, &status)
	}
	if v, ok := raw["MESSAGE"]; ok {
		_ = json.Unmarshal(v, &message)
	}
	if status != "OK" {
		return nil, fmt.Errorf("ecare offer pack: %s", nonEmpty(message, "request rejected"))
	}

	groups := make(map[string][]RawOffer)
	for key, val := range raw {
		if key == "STATUS" || key == "MESSAGE" {
			continue
		}
		var offers []RawOffer
		if err := json.Unmarshal(val, &offers); err != nil {
			c.logger.Warn("skipping malformed offer group", "operator", key, "error", err)
			continue
		}
		groups[key] = offers
	}
	return &OfferPackResult{Groups: groups, Message: message}, nil
}

func (c *Client) call(ctx context.Context, service string, params url.Values, dest any) error {
	params.Set("service", service)
	params.Set("access_id", c.accessID)
	params.Set("access_pass", c.accessPass)
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "recharge-core/ecare-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ProviderRequests.WithLabelValues(service, "error").Inc()
		}
		return fmt.Errorf("ecare request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.ProviderRequests.WithLabelValues(service, statusLabel).Inc()
		c.metrics.ProviderLatency.WithLabelValues(service, statusLabel).Observe(duration)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("ecare error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseAmount(val string) float64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func nonEmpty(val, fallback string) string {
	if strings.TrimSpace(val) != "" {
		return val
	}
	return fallback
}
