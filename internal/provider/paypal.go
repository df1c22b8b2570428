package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
)

const (
	payPalName = "paypal"

	defaultPayPalTimeout = 10 * time.Second
	// tokenExpirySlack — запас до истечения OAuth-токена, после которого
	// берём новый, чтобы не отправлять запрос с почти истёкшим токеном.
	tokenExpirySlack = 30 * time.Second
)

// PayPalConfig — настройки REST-клиента PayPal Checkout.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// BrandName показывается покупателю на странице одобрения платежа.
	BrandName string
	ReturnURL string
	CancelURL string
	// HTTPTimeout ограничивает каждый исходящий запрос; ноль — значение по умолчанию.
	HTTPTimeout time.Duration
}

// PayPal — адаптер PayPal Checkout (REST v2, intent CAPTURE). Verify читает
// авторитетное состояние заказа у провайдера; Normalize — чистое отображение
// payload в канонический исход.
type PayPal struct {
	cfg    PayPalConfig
	client *http.Client
	logger *log.Entry

	tokenMu     sync.Mutex
	accessToken string
	tokenUntil  time.Time
}

// NewPayPal создаёт адаптер с собственным HTTP-клиентом и таймаутом.
func NewPayPal(cfg PayPalConfig, logger *log.Entry) *PayPal {
	if logger == nil {
		logger = log.New().WithField("component", "provider-paypal")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultPayPalTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PayPal{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Name возвращает имя адаптера в реестре.
func (p *PayPal) Name() string { return payPalName }

// Initiate создаёт заказ PayPal с intent CAPTURE и возвращает approve-ссылку.
func (p *PayPal) Initiate(req domain.InitiateRequest) (domain.InitiateResult, error) {
	if req.OrderID == "" {
		return domain.InitiateResult{}, domain.ErrOrderIDRequired
	}
	if req.AmountMinor <= 0 {
		return domain.InitiateResult{}, domain.ErrPaymentAmountNegative
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"description":  req.OrderName,
			"amount": map[string]any{
				"currency_code": req.Currency,
				"value":         minorToDecimal(req.AmountMinor),
			},
		}},
		"application_context": map[string]any{
			"brand_name":  p.cfg.BrandName,
			"user_action": "PAY_NOW",
			"return_url":  p.cfg.ReturnURL,
			"cancel_url":  p.cfg.CancelURL,
		},
	}

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := p.do(http.MethodPost, "/v2/checkout/orders", body, &created); err != nil {
		return domain.InitiateResult{}, fmt.Errorf("paypal create order for %s: %w", req.OrderID, err)
	}
	if created.ID == "" {
		return domain.InitiateResult{}, fmt.Errorf("paypal create order response without id: %w", domain.ErrProviderUnavailable)
	}

	result := domain.InitiateResult{PaymentID: created.ID}
	for _, link := range created.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			result.RedirectURL = link.Href
			break
		}
	}

	p.logger.WithFields(log.Fields{
		"order_id":   req.OrderID,
		"payment_id": created.ID,
		"status":     created.Status,
	}).Info("paypal order created")

	return result, nil
}

// Verify запрашивает у PayPal текущее состояние заказа. Клиентским данным
// об исходе платежа сервис не доверяет.
func (p *PayPal) Verify(paymentID string) (domain.RawOutcome, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("paypal verify: %w", domain.ErrOutcomeRefRequired)
	}

	var raw domain.RawOutcome
	if err := p.do(http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(paymentID), nil, &raw); err != nil {
		return nil, fmt.Errorf("paypal verify payment %s: %w", paymentID, err)
	}
	return raw, nil
}

// Normalize отображает payload заказа PayPal в канонический исход.
// COMPLETED → paid, VOIDED → cancelled, DECLINED и APPROVED → failed
// (APPROVED означает одобрение без capture; исход advisory, заказ останется
// pending). Отсутствие id или status — MissingFieldsError.
func (p *PayPal) Normalize(raw domain.RawOutcome) (domain.CanonicalOutcome, error) {
	var missing []string

	id, _ := raw["id"].(string)
	if id == "" {
		missing = append(missing, "id")
	}
	status, _ := raw["status"].(string)
	if status == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return domain.CanonicalOutcome{}, &domain.MissingFieldsError{Provider: payPalName, Fields: missing}
	}

	outcome := domain.CanonicalOutcome{
		Provider:       payPalName,
		TransactionRef: id,
	}

	switch strings.ToUpper(status) {
	case "COMPLETED":
		outcome.Kind = domain.OutcomeKindPaid
	case "VOIDED":
		outcome.Kind = domain.OutcomeKindCancelled
		outcome.Reason = "voided by provider"
	case "DECLINED":
		outcome.Kind = domain.OutcomeKindFailed
		outcome.Reason = "declined by provider"
	case "APPROVED":
		outcome.Kind = domain.OutcomeKindFailed
		outcome.Reason = "approved but not captured"
	default:
		return domain.CanonicalOutcome{}, fmt.Errorf("paypal status %q: %w", status, domain.ErrOutcomeKindInvalid)
	}

	if unit, ok := firstElement(raw["purchase_units"]); ok {
		if captureID, captureAmount, ok := firstCapture(unit); ok {
			if captureID != "" {
				outcome.TransactionRef = captureID
			}
			if minor, ok := amountValueMinor(captureAmount); ok {
				outcome.AmountMinor = &minor
			}
		}
		if outcome.AmountMinor == nil {
			if amount, ok := unit["amount"].(map[string]any); ok {
				if minor, ok := amountValueMinor(amount); ok {
					outcome.AmountMinor = &minor
				}
			}
		}
	}

	return outcome, nil
}

// do выполняет авторизованный запрос к API и декодирует ответ в out.
func (p *PayPal) do(method, path string, body, out any) error {
	token, err := p.token()
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s: %w",
			method, path, resp.StatusCode, strings.TrimSpace(string(snippet)), domain.ErrProviderUnavailable)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, domain.ErrProviderUnavailable)
	}
	return nil
}

// token возвращает закэшированный OAuth-токен или получает новый по
// client_credentials.
func (p *PayPal) token() (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenUntil) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequest(http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth token: %v: %w", err, domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("oauth token: status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(snippet)), domain.ErrProviderUnavailable)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode oauth token: %v: %w", err, domain.ErrProviderUnavailable)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("oauth token response without access_token: %w", domain.ErrProviderUnavailable)
	}

	p.accessToken = token.AccessToken
	p.tokenUntil = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenExpirySlack)
	return p.accessToken, nil
}

// firstElement возвращает первый элемент JSON-массива объектов.
func firstElement(v any) (map[string]any, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	element, ok := list[0].(map[string]any)
	return element, ok
}

// firstCapture достаёт первый capture из purchase unit: payments.captures[0].
func firstCapture(unit map[string]any) (string, map[string]any, bool) {
	payments, ok := unit["payments"].(map[string]any)
	if !ok {
		return "", nil, false
	}
	capture, ok := firstElement(payments["captures"])
	if !ok {
		return "", nil, false
	}
	id, _ := capture["id"].(string)
	amount, _ := capture["amount"].(map[string]any)
	return id, amount, true
}

// amountValueMinor парсит amount {value, currency_code} в минорные единицы.
func amountValueMinor(amount map[string]any) (int64, bool) {
	if amount == nil {
		return 0, false
	}
	value, ok := amount["value"].(string)
	if !ok {
		return 0, false
	}
	minor, err := decimalToMinor(value)
	if err != nil {
		return 0, false
	}
	return minor, true
}

var _ domain.PaymentProvider = (*PayPal)(nil)
