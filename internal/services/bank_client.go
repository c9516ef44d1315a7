package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/schoolpay/backend/internal/models"
)

// BankTransactionRecord is one row of a provider's authoritative statement,
// reduced to the fields reconciliation needs.
type BankTransactionRecord struct {
	TransactionID string    `json:"transactionId"`
	Amount        float64   `json:"amount"`
	Reference     string    `json:"reference"`
	PostedAt      time.Time `json:"postedAt"`
}

// BankClient fetches a tenant's transaction list from one bank provider.
type BankClient interface {
	Provider() string
	FetchTransactions(ctx context.Context, tenant *models.Tenant, from, to time.Time) ([]BankTransactionRecord, error)
}

// BankClientRegistry resolves provider names to clients.
type BankClientRegistry struct {
	clients map[string]BankClient
}

func NewBankClientRegistry(tokens *TokenService) *BankClientRegistry {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	r := &BankClientRegistry{clients: map[string]BankClient{}}
	for _, c := range []BankClient{
		NewEquityClient(tokens, httpClient),
		NewKCBClient(tokens, httpClient),
		NewCoopClient(tokens, httpClient),
	} {
		r.clients[c.Provider()] = c
	}
	return r
}

func (r *BankClientRegistry) Get(provider string) (BankClient, error) {
	c, ok := r.clients[strings.ToUpper(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("unsupported bank provider: %s", provider)
	}
	return c, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bank API returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// EquityClient speaks the Jenga API: basic-auth token endpoint, JSON
// transaction query.
type EquityClient struct {
	baseURL string
	tokens  *TokenService
	client  *http.Client
}

func NewEquityClient(tokens *TokenService, client *http.Client) *EquityClient {
	baseURL := "https://uat.jengahq.io"
	if env := os.Getenv("EQUITY_API_URL"); env != "" {
		baseURL = env
	}
	return &EquityClient{baseURL: baseURL, tokens: tokens, client: client}
}

func (c *EquityClient) Provider() string { return models.ProviderEquity }

func (c *EquityClient) accessToken(ctx context.Context, tenant *models.Tenant) (string, error) {
	if token, err := c.tokens.Get(ctx, tenant.ID, c.Provider()); err == nil && token != "" {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/identity/v2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(tenant.Bank.ConsumerKey + ":" + tenant.Bank.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("equity token request: %w", err)
	}
	var body tokenResponse
	if err := decodeBody(resp, &body); err != nil {
		return "", fmt.Errorf("equity token response: %w", err)
	}

	_ = c.tokens.Set(ctx, tenant.ID, c.Provider(), body.AccessToken, time.Duration(body.ExpiresIn)*time.Second)
	return body.AccessToken, nil
}

func (c *EquityClient) FetchTransactions(ctx context.Context, tenant *models.Tenant, from, to time.Time) ([]BankTransactionRecord, error) {
	token, err := c.accessToken(ctx, tenant)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]string{
		"accountNumber": tenant.Bank.AccountNumber,
		"fromDate":      from.Format("2006-01-02"),
		"toDate":        to.Format("2006-01-02"),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transaction/v2/accounts/transactions/query", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("equity fetch: %w", err)
	}
	var body struct {
		Transactions []struct {
			TransactionReference string  `json:"transactionReference"`
			Amount               float64 `json:"amount"`
			AccountNumber        string  `json:"accountNumber"`
			Date                 string  `json:"date"`
		} `json:"transactions"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return nil, fmt.Errorf("equity fetch response: %w", err)
	}

	records := make([]BankTransactionRecord, 0, len(body.Transactions))
	for _, t := range body.Transactions {
		records = append(records, BankTransactionRecord{
			TransactionID: t.TransactionReference,
			Amount:        t.Amount,
			Reference:     t.AccountNumber,
			PostedAt:      parseTimeOrNow("2006-01-02", t.Date),
		})
	}
	return records, nil
}

// KCBClient speaks the Buni API: JSON token endpoint, query-parameter
// transaction listing.
type KCBClient struct {
	baseURL string
	tokens  *TokenService
	client  *http.Client
}

func NewKCBClient(tokens *TokenService, client *http.Client) *KCBClient {
	baseURL := "https://uat.api.kcbbankgroup.com"
	if env := os.Getenv("KCB_API_URL"); env != "" {
		baseURL = env
	}
	return &KCBClient{baseURL: baseURL, tokens: tokens, client: client}
}

func (c *KCBClient) Provider() string { return models.ProviderKCB }

func (c *KCBClient) accessToken(ctx context.Context, tenant *models.Tenant) (string, error) {
	if token, err := c.tokens.Get(ctx, tenant.ID, c.Provider()); err == nil && token != "" {
		return token, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     tenant.Bank.APIKey,
		"client_secret": tenant.Bank.APISecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("kcb token request: %w", err)
	}
	var body tokenResponse
	if err := decodeBody(resp, &body); err != nil {
		return "", fmt.Errorf("kcb token response: %w", err)
	}

	_ = c.tokens.Set(ctx, tenant.ID, c.Provider(), body.AccessToken, time.Duration(body.ExpiresIn)*time.Second)
	return body.AccessToken, nil
}

func (c *KCBClient) FetchTransactions(ctx context.Context, tenant *models.Tenant, from, to time.Time) ([]BankTransactionRecord, error) {
	token, err := c.accessToken(ctx, tenant)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions?%s",
		c.baseURL, url.PathEscape(tenant.Bank.AccountNumber),
		url.Values{
			"from_date": {from.Format("2006-01-02")},
			"to_date":   {to.Format("2006-01-02")},
		}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kcb fetch: %w", err)
	}
	var body struct {
		Transactions []struct {
			TransactionReference string  `json:"transaction_reference"`
			TransactionAmount    float64 `json:"transaction_amount"`
			AccountReference     string  `json:"account_reference"`
			TransactionDate      string  `json:"transaction_date"`
		} `json:"transactions"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return nil, fmt.Errorf("kcb fetch response: %w", err)
	}

	records := make([]BankTransactionRecord, 0, len(body.Transactions))
	for _, t := range body.Transactions {
		records = append(records, BankTransactionRecord{
			TransactionID: t.TransactionReference,
			Amount:        t.TransactionAmount,
			Reference:     t.AccountReference,
			PostedAt:      parseTimeOrNow("2006-01-02 15:04:05", t.TransactionDate),
		})
	}
	return records, nil
}

// CoopClient speaks the Co-op developer API: basic-auth token endpoint,
// mini-statement listing.
type CoopClient struct {
	baseURL string
	tokens  *TokenService
	client  *http.Client
}

func NewCoopClient(tokens *TokenService, client *http.Client) *CoopClient {
	baseURL := "https://developer.co-opbank.co.ke:9443"
	if env := os.Getenv("COOP_API_URL"); env != "" {
		baseURL = env
	}
	return &CoopClient{baseURL: baseURL, tokens: tokens, client: client}
}

func (c *CoopClient) Provider() string { return models.ProviderCoop }

func (c *CoopClient) accessToken(ctx context.Context, tenant *models.Tenant) (string, error) {
	if token, err := c.tokens.Get(ctx, tenant.ID, c.Provider()); err == nil && token != "" {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(tenant.Bank.ConsumerKey + ":" + tenant.Bank.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("coop token request: %w", err)
	}
	var body tokenResponse
	if err := decodeBody(resp, &body); err != nil {
		return "", fmt.Errorf("coop token response: %w", err)
	}

	_ = c.tokens.Set(ctx, tenant.ID, c.Provider(), body.AccessToken, time.Duration(body.ExpiresIn)*time.Second)
	return body.AccessToken, nil
}

func (c *CoopClient) FetchTransactions(ctx context.Context, tenant *models.Tenant, from, to time.Time) ([]BankTransactionRecord, error) {
	token, err := c.accessToken(ctx, tenant)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]string{
		"AccountNumber": tenant.Bank.AccountNumber,
		"StartDate":     from.Format("2006-01-02"),
		"EndDate":       to.Format("2006-01-02"),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/AccountBalance/1.0.0/AccountMiniStatement", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coop fetch: %w", err)
	}
	var body struct {
		Transactions []struct {
			TransactionID string  `json:"TransactionID"`
			TransAmount   float64 `json:"TransAmount"`
			BillRefNumber string  `json:"BillRefNumber"`
			TransTime     string  `json:"TransTime"`
		} `json:"Transactions"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return nil, fmt.Errorf("coop fetch response: %w", err)
	}

	records := make([]BankTransactionRecord, 0, len(body.Transactions))
	for _, t := range body.Transactions {
		records = append(records, BankTransactionRecord{
			TransactionID: t.TransactionID,
			Amount:        t.TransAmount,
			Reference:     t.BillRefNumber,
			PostedAt:      parseTimeOrNow("20060102150405", t.TransTime),
		})
	}
	return records, nil
}
