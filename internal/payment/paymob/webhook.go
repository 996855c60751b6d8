package paymob

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/models"
)

// HMACFields is the provider's documented field order for the callback HMAC.
// Changing it breaks every signature.
var HMACFields = [...]string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order",
	"owner",
	"pending",
	"source_data_pan",
	"source_data_sub_type",
	"source_data_type",
	"success",
}

// ParseWebhook accepts the flat callback shape and the {type, obj} envelope.
// The hmac may come in the body or as a query parameter.
func ParseWebhook(body []byte, query url.Values) (*models.GatewayNotification, error) {
	const op = "paymob.ParseWebhook"

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, op, err, "webhook body is not a JSON object")
	}

	src := raw
	nested := false
	if obj, ok := raw["obj"].(map[string]interface{}); ok {
		src = obj
		nested = true
	}

	fields := make(map[string]string, len(HMACFields))
	for _, name := range HMACFields {
		fields[name] = stringify(src[name])
	}

	var merchantOrderID string
	if nested {
		if order, ok := src["order"].(map[string]interface{}); ok {
			fields["order"] = stringify(order["id"])
			merchantOrderID = stringify(order["merchant_order_id"])
		}
		if sd, ok := src["source_data"].(map[string]interface{}); ok {
			fields["source_data_pan"] = stringify(sd["pan"])
			fields["source_data_sub_type"] = stringify(sd["sub_type"])
			fields["source_data_type"] = stringify(sd["type"])
		}
	} else {
		merchantOrderID = stringify(src["merchant_order_id"])
	}

	signature := stringify(raw["hmac"])
	if signature == "" && query != nil {
		signature = query.Get("hmac")
	}

	n := &models.GatewayNotification{
		TransactionID:   fields["id"],
		MerchantOrderID: merchantOrderID,
		GatewayOrderID:  fields["order"],
		Success:         fields["success"] == "true",
		Currency:        fields["currency"],
		PaymentMethod:   fields["source_data_type"],
		Signature:       signature,
		SignedFields:    fields,
		Raw:             raw,
	}
	if cents, err := strconv.ParseInt(fields["amount_cents"], 10, 64); err == nil {
		n.AmountCents = cents
	}
	if data, ok := src["data"].(map[string]interface{}); ok {
		n.FailureMessage = stringify(data["message"])
	}
	return n, nil
}

func (c *Client) ParseWebhook(body []byte, query url.Values) (*models.GatewayNotification, error) {
	return ParseWebhook(body, query)
}

// ComputeSignature returns the hex HMAC-SHA512 over the ordered field values.
func ComputeSignature(secret string, fields map[string]string) string {
	var b strings.Builder
	for _, name := range HMACFields {
		b.WriteString(fields[name])
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the callback HMAC in constant time. Without a
// configured secret it only passes when unsigned webhooks are explicitly allowed.
func (c *Client) VerifyWebhookSignature(n *models.GatewayNotification) error {
	const op = "paymob.VerifyWebhookSignature"

	if c.cfg.HMACSecret == "" {
		if c.cfg.AllowUnsignedWebhooks {
			c.logger.LogSecurity("UNSIGNED_WEBHOOK", fmt.Sprintf("accepting transaction %s without HMAC verification", n.TransactionID))
			return nil
		}
		return apperrors.Signature(op, "no HMAC secret configured")
	}
	if n.Signature == "" {
		return apperrors.Signature(op, "webhook carries no hmac")
	}

	got, err := hex.DecodeString(strings.ToLower(n.Signature))
	if err != nil {
		return apperrors.Signature(op, "webhook hmac is not hex")
	}
	want, _ := hex.DecodeString(ComputeSignature(c.cfg.HMACSecret, n.SignedFields))
	if !hmac.Equal(want, got) {
		return apperrors.Signature(op, "webhook hmac mismatch")
	}
	return nil
}

// stringify mirrors how the provider renders values before hashing.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
