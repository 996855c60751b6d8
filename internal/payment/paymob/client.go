package paymob

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const GatewayName = "paymob"

// TokenCache keeps the provider auth token between checkouts. Get returns ""
// when nothing usable is cached.
type TokenCache interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
}

// Client talks to the Paymob Accept API.
type Client struct {
	http   *resty.Client
	cfg    config.PaymobConfig
	cache  TokenCache
	logger *logger.Logger
}

func NewClient(cfg config.PaymobConfig, cache TokenCache, log *logger.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.Currency == "" {
		cfg.Currency = "EGP"
	}
	if cfg.PaymentKeyExpiration <= 0 {
		cfg.PaymentKeyExpiration = 3600
	}

	return &Client{http: httpClient, cfg: cfg, cache: cache, logger: log}
}

func (c *Client) Name() string {
	return GatewayName
}

// ToMinorUnits converts an amount to integer piasters/cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type authResponse struct {
	Token string `json:"token"`
}

type orderResponse struct {
	ID int64 `json:"id"`
}

type paymentKeyResponse struct {
	Token string `json:"token"`
}

type billingData struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Country     string `json:"country"`
	City        string `json:"city"`
	Street      string `json:"street"`
	Building    string `json:"building"`
	Floor       string `json:"floor"`
	Apartment   string `json:"apartment"`
}

// CreatePaymentIntent runs the three-step handshake: auth token, remote order,
// payment key. Any failed step fails the whole call.
func (c *Client) CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	const op = "paymob.CreatePaymentIntent"

	currency := req.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	amountCents := ToMinorUnits(req.Amount)
	if amountCents <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, op, "amount must be positive")
	}

	authToken, err := c.authToken(ctx, false)
	if err != nil {
		return nil, err
	}

	var order orderResponse
	if err := c.post(ctx, op, "/ecommerce/orders", map[string]interface{}{
		"auth_token":        authToken,
		"delivery_needed":   "false",
		"amount_cents":      amountCents,
		"currency":          currency,
		"merchant_order_id": req.OrderID,
	}, &order); err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, apperrors.Gateway(op, nil, "order registration returned no id")
	}

	var key paymentKeyResponse
	if err := c.post(ctx, op, "/acceptance/payment_keys", map[string]interface{}{
		"auth_token":     authToken,
		"amount_cents":   amountCents,
		"expiration":     c.cfg.PaymentKeyExpiration,
		"order_id":       order.ID,
		"billing_data":   c.billing(req),
		"currency":       currency,
		"integration_id": integrationID(c.cfg.IntegrationID),
	}, &key); err != nil {
		return nil, err
	}
	if key.Token == "" {
		return nil, apperrors.Gateway(op, nil, "payment key response carried no token")
	}

	gatewayOrderID := strconv.FormatInt(order.ID, 10)
	c.logger.LogPayment("INTENT_CREATED", req.OrderID, fmt.Sprintf("paymob order %s, %d %s", gatewayOrderID, amountCents, currency))

	return &models.PaymentIntent{
		PaymentURL:     fmt.Sprintf("%s/acceptance/iframes/%s?payment_token=%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.IframeID, key.Token),
		PaymentToken:   key.Token,
		GatewayOrderID: gatewayOrderID,
	}, nil
}

// ProcessRefund re-authenticates and refunds amount against a captured transaction.
func (c *Client) ProcessRefund(ctx context.Context, transactionID string, amount decimal.Decimal) (map[string]interface{}, error) {
	const op = "paymob.ProcessRefund"

	if transactionID == "" {
		return nil, apperrors.New(apperrors.KindValidation, op, "transaction id is required")
	}

	authToken, err := c.authToken(ctx, true)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{}
	if err := c.post(ctx, op, "/acceptance/void_refund/refund", map[string]interface{}{
		"auth_token":     authToken,
		"transaction_id": transactionID,
		"amount_cents":   ToMinorUnits(amount),
	}, &result); err != nil {
		return nil, err
	}

	c.logger.LogPayment("REFUNDED", transactionID, fmt.Sprintf("refunded %s", amount.StringFixed(2)))
	return result, nil
}

func (c *Client) authToken(ctx context.Context, fresh bool) (string, error) {
	const op = "paymob.authenticate"

	if c.cache != nil && !fresh {
		token, err := c.cache.Get(ctx)
		if err != nil {
			c.logger.Warn("PAYMENT", fmt.Sprintf("auth token cache read failed: %v", err))
		} else if token != "" {
			return token, nil
		}
	}

	var auth authResponse
	if err := c.post(ctx, op, "/auth/tokens", map[string]string{"api_key": c.cfg.APIKey}, &auth); err != nil {
		return "", err
	}
	if auth.Token == "" {
		return "", apperrors.Gateway(op, nil, "auth response carried no token")
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, auth.Token); err != nil {
			c.logger.Warn("PAYMENT", fmt.Sprintf("auth token cache write failed: %v", err))
		}
	}
	return auth.Token, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post(path)
	if err != nil {
		return apperrors.Gateway(op, err, "POST %s failed", path)
	}
	if resp.IsError() {
		return apperrors.Gateway(op, nil, "POST %s returned %s: %s", path, resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (c *Client) billing(req models.PaymentIntentRequest) billingData {
	email := req.CustomerEmail
	if email == "" {
		email = "customer@example.com"
	}
	phone := req.CustomerPhone
	if phone == "" {
		phone = "+20123456789"
	}
	return billingData{
		Email:       email,
		FirstName:   "Customer",
		LastName:    "Name",
		PhoneNumber: phone,
		Country:     "EG",
		City:        "Cairo",
		Street:      "N/A",
		Building:    "N/A",
		Floor:       "N/A",
		Apartment:   "N/A",
	}
}

// integrationID sends numeric ids as numbers, which is what the API documents.
func integrationID(raw string) interface{} {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}
