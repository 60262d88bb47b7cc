package payment

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
	"strings"
	"time"

	"canteen-sync/internal/domain"
)

// settlement_time is reported in WIB.
var gatewayZone = time.FixedZone("WIB", 7*60*60)

const gatewayTimeLayout = "2006-01-02 15:04:05"

type SnapConfig struct {
	// SnapBaseURL serves transaction creation, APIBaseURL serves status queries.
	SnapBaseURL string
	APIBaseURL  string
	ServerKey   string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type snapGateway struct {
	snapURL   string
	apiURL    string
	serverKey string
	client    *http.Client
}

// NewSnapGateway returns a client for a Snap-style payment gateway.
func NewSnapGateway(cfg SnapConfig) PaymentGateway {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	apiURL := cfg.APIBaseURL
	if apiURL == "" {
		apiURL = cfg.SnapBaseURL
	}
	return &snapGateway{
		snapURL:   strings.TrimRight(cfg.SnapBaseURL, "/"),
		apiURL:    strings.TrimRight(apiURL, "/"),
		serverKey: cfg.ServerKey,
		client:    client,
	}
}

type snapTransactionRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	ItemDetails     []Item `json:"item_details"`
	CustomerDetails struct {
		FirstName string `json:"first_name,omitempty"`
		Email     string `json:"email,omitempty"`
	} `json:"customer_details"`
}

type snapTransactionResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

type snapStatusResponse struct {
	StatusCode        string `json:"status_code"`
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	PaymentType       string `json:"payment_type"`
	SettlementTime    string `json:"settlement_time"`
	GrossAmount       string `json:"gross_amount"`
}

func (g *snapGateway) Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	fail := func(err error) error {
		return &domain.PaymentInitiationError{Reference: req.Reference, Err: err}
	}

	var body snapTransactionRequest
	body.TransactionDetails.OrderID = req.Reference
	body.TransactionDetails.GrossAmount = req.GrossAmount
	body.ItemDetails = req.Items
	body.CustomerDetails.FirstName = req.Payer.Name
	body.CustomerDetails.Email = req.Payer.Email

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fail(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.snapURL+"/snap/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return nil, fail(err)
	}
	g.authorize(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fail(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(fmt.Errorf("gateway responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out snapTransactionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fail(fmt.Errorf("malformed gateway response: %w", err))
	}
	if out.Token == "" || out.RedirectURL == "" {
		return nil, fail(errors.New("malformed gateway response: missing token or redirect_url"))
	}

	return &Checkout{CheckoutURL: out.RedirectURL, Token: out.Token}, nil
}

func (g *snapGateway) QueryStatus(ctx context.Context, reference string) (*Transaction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+"/v2/"+url.PathEscape(reference)+"/status", nil)
	if err != nil {
		return nil, err
	}
	g.authorize(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Transaction{Reference: reference}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status query for %s: gateway responded %d", reference, resp.StatusCode)
	}

	var out snapStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("status query for %s: %w", reference, err)
	}
	// the status endpoint reports "not found" in the body with a 200
	if out.StatusCode == "404" {
		return &Transaction{Reference: reference}, nil
	}

	txn := &Transaction{
		Reference:     reference,
		RawStatus:     RawStatus(out.TransactionStatus),
		PaymentMethod: out.PaymentType,
	}
	if out.GrossAmount != "" {
		if f, err := strconv.ParseFloat(out.GrossAmount, 64); err == nil {
			txn.GrossAmount = int64(f)
		}
	}
	if out.SettlementTime != "" {
		if ts, err := time.ParseInLocation(gatewayTimeLayout, out.SettlementTime, gatewayZone); err == nil {
			txn.SettledAt = &ts
		}
	}
	return txn, nil
}

func (g *snapGateway) authorize(r *http.Request) {
	r.SetBasicAuth(g.serverKey, "")
	r.Header.Set("Accept", "application/json")
}
