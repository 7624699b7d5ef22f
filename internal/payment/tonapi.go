package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transaction is the slice of a ledger entry the verifier consumes: the
// inbound amount and the sender's memo text.
type Transaction struct {
	Hash       string
	AmountNano int64
	Comment    string
}

// Ledger reads recent inbound transactions for an address, newest first.
type Ledger interface {
	RecentTransactions(ctx context.Context, address string, limit int) ([]Transaction, error)
}

type TonAPIConfig struct {
	APIURL string // default https://tonapi.io
	APIKey string
	Client *http.Client
}

// TonAPI queries the tonapi.io v2 REST endpoint. Read-only.
type TonAPI struct {
	cfg  TonAPIConfig
	http *http.Client
}

func NewTonAPI(cfg TonAPIConfig) *TonAPI {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = "https://tonapi.io"
	}
	c := cfg.Client
	if c == nil {
		c = &http.Client{Timeout: 15 * time.Second}
	}
	return &TonAPI{cfg: cfg, http: c}
}

type tonTransactionsResponse struct {
	Transactions []struct {
		Hash  string `json:"hash"`
		InMsg *struct {
			Value       int64 `json:"value"`
			DecodedBody *struct {
				Comment string `json:"comment"`
				Text    string `json:"text"`
			} `json:"decoded_body"`
		} `json:"in_msg"`
	} `json:"transactions"`
}

func (t *TonAPI) RecentTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	u := fmt.Sprintf("%s/v2/blockchain/accounts/%s/transactions?limit=%d",
		strings.TrimRight(t.cfg.APIURL, "/"), url.PathEscape(address), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: ledger http %d", ErrUnavailable, resp.StatusCode)
	}

	var out tonTransactionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}

	txs := make([]Transaction, 0, len(out.Transactions))
	for _, raw := range out.Transactions {
		tx := Transaction{Hash: raw.Hash}
		if raw.InMsg == nil {
			continue
		}
		tx.AmountNano = raw.InMsg.Value
		if body := raw.InMsg.DecodedBody; body != nil {
			tx.Comment = body.Comment
			if tx.Comment == "" {
				tx.Comment = body.Text
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
