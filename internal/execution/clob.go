package execution

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CLOBConfig carries everything needed to trade against the Polymarket CLOB
type CLOBConfig struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Passphrase    string
	PrivateKey    string // hex, 0x prefix optional
	FunderAddress string // proxy wallet holding the funds; empty for EOA
	SignatureType int
}

// APICreds are L2 credentials derived from the wallet
type APICreds struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// CLOBClient places FOK buy orders on the Polymarket CLOB. It implements
// Exchange; the gateway above it owns retries and auditing.
type CLOBClient struct {
	baseURL       string
	apiKey        string
	apiSecret     string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	signatureType int
	httpClient    *http.Client
}

// NewCLOBClient builds a live trading client. When API credentials are not
// provided they are derived from the wallet via the CLOB auth endpoints.
func NewCLOBClient(cfg CLOBConfig) (*CLOBClient, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("live trading requires PRIVATE_KEY")
	}
	pkHex := strings.TrimPrefix(cfg.PrivateKey, "0x")
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	c := &CLOBClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		passphrase:    cfg.Passphrase,
		privateKey:    pk,
		address:       crypto.PubkeyToAddress(pk.PublicKey),
		signatureType: cfg.SignatureType,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.FunderAddress != "" {
		c.funderAddress = common.HexToAddress(cfg.FunderAddress)
	} else {
		c.funderAddress = c.address
	}

	if c.apiKey == "" || c.apiSecret == "" {
		log.Info().Str("signer", c.address.Hex()).Msg("Deriving CLOB API credentials from wallet...")
		creds, err := c.deriveCreds()
		if err != nil {
			return nil, fmt.Errorf("credential derivation failed: %w", err)
		}
		c.apiKey = creds.APIKey
		c.apiSecret = creds.Secret
		c.passphrase = creds.Passphrase
		log.Info().Msg("✅ CLOB API credentials derived")
	}

	log.Info().
		Str("signer", c.address.Hex()).
		Str("funder", c.funderAddress.Hex()).
		Int("sig_type", c.signatureType).
		Msg("CLOB client ready")
	return c, nil
}

// PlaceOrder signs and submits a fill-or-kill buy. The limit price is the
// spec's book price with a fixed slippage buffer so the taker order crosses.
func (c *CLOBClient) PlaceOrder(ctx context.Context, spec OrderSpec) (Fill, error) {
	if spec.Price.IsZero() {
		return Fill{}, fmt.Errorf("no limit price for token %s", spec.TokenID)
	}

	limit := spec.Price.Add(decimal.NewFromFloat(0.03))
	if limit.GreaterThan(decimal.NewFromFloat(0.99)) {
		limit = decimal.NewFromFloat(0.99)
	}

	signer := newOrderSigner(c.privateKey, c.address, c.funderAddress, c.signatureType)
	signed, err := signer.signedBuy(spec.TokenID, limit, spec.Shares)
	if err != nil {
		return Fill{}, fmt.Errorf("order signing failed: %w", err)
	}

	body, err := json.Marshal(signed.apiPayload(c.apiKey, "FOK"))
	if err != nil {
		return Fill{}, fmt.Errorf("order marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return Fill{}, err
	}
	c.signL2Request(req, "POST", "/order", body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Fill{}, Transient(fmt.Errorf("order request failed: %w", err))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Fill{}, Transient(fmt.Errorf("CLOB returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var orderResp struct {
		OrderID      string   `json:"orderID"`
		Status       string   `json:"status"`
		Success      bool     `json:"success"`
		ErrorMsg     string   `json:"errorMsg"`
		MakingAmount string   `json:"makingAmount"`
		TakingAmount string   `json:"takingAmount"`
		TxHashes     []string `json:"transactionsHashes"`
	}
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return Fill{}, fmt.Errorf("unparseable CLOB response: %w, body: %s", err, string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Fill{}, fmt.Errorf("order rejected: %s", string(respBody))
	}
	if !orderResp.Success && orderResp.ErrorMsg != "" {
		return Fill{}, fmt.Errorf("order rejected: %s", orderResp.ErrorMsg)
	}

	status := strings.ToLower(orderResp.Status)
	if status != "matched" && status != "filled" {
		// FOK either matches immediately or dies
		return Fill{}, fmt.Errorf("FOK order not matched, status %q", orderResp.Status)
	}

	fill := Fill{
		ExchangeID: orderResp.OrderID,
		Shares:     spec.Shares,
		Price:      limit,
		Cost:       spec.Shares.Mul(limit),
	}
	// Prefer the venue's reported amounts when present
	if making, err := decimal.NewFromString(orderResp.MakingAmount); err == nil && !making.IsZero() {
		if taking, err := decimal.NewFromString(orderResp.TakingAmount); err == nil && !taking.IsZero() {
			fill.Shares = taking
			fill.Cost = making
			fill.Price = making.Div(taking)
			fill.Partial = taking.LessThan(spec.Shares)
		}
	}

	log.Info().
		Str("order_id", orderResp.OrderID).
		Str("symbol", spec.Symbol).
		Str("side", spec.Side).
		Str("shares", fill.Shares.String()).
		Str("price", fill.Price.String()).
		Msg("✅ Order matched")
	return fill, nil
}

// CancelOrder cancels an open order by exchange ID
func (c *CLOBClient) CancelOrder(ctx context.Context, exchangeID string) error {
	body := []byte(fmt.Sprintf(`{"orderID":%q}`, exchangeID))
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.signL2Request(req, "DELETE", "/order", body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel failed: %s", string(respBody))
	}
	return nil
}

// signL2Request adds HMAC auth headers. The secret is URL-safe base64 per
// py-clob-client, and POLY_ADDRESS is the signer, not the funder.
func (c *CLOBClient) signL2Request(req *http.Request, method, path string, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	secretBytes, err := base64.URLEncoding.DecodeString(c.apiSecret)
	if err != nil {
		padded := c.apiSecret
		if len(padded)%4 != 0 {
			padded += strings.Repeat("=", 4-len(padded)%4)
		}
		if secretBytes, err = base64.URLEncoding.DecodeString(padded); err != nil {
			secretBytes, _ = base64.StdEncoding.DecodeString(c.apiSecret)
		}
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.address.Hex())
}

// deriveCreds asks the CLOB for existing credentials, creating them if the
// wallet has none yet. Both calls use L1 (wallet signature) auth.
func (c *CLOBClient) deriveCreds() (*APICreds, error) {
	timestamp := time.Now().Unix()
	nonce := int64(0)

	signature, err := c.signAuthMessage(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("auth message signing failed: %w", err)
	}

	polyAddress := c.funderAddress.Hex()
	headers := map[string]string{
		"POLY_ADDRESS":   polyAddress,
		"POLY_SIGNATURE": signature,
		"POLY_TIMESTAMP": strconv.FormatInt(timestamp, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}

	doAuth := func(method, path string) (*http.Response, []byte, error) {
		req, err := http.NewRequest(method, c.baseURL+path, nil)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp, body, nil
	}

	resp, body, err := doAuth("GET", "/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// No credentials yet, create them
		resp, body, err = doAuth("POST", "/auth/api-key")
		if err != nil {
			return nil, fmt.Errorf("create request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return nil, fmt.Errorf("auth API error %d: %s", resp.StatusCode, string(body))
		}
	}

	var creds APICreds
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("unparseable credentials: %w", err)
	}
	return &creds, nil
}

// signAuthMessage signs the ClobAuth EIP-712 message attesting wallet control
func (c *CLOBClient) signAuthMessage(timestamp, nonce int64) (string, error) {
	domainTypeHash := crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	domainSeparator := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte("ClobAuthDomain")).Bytes(),
		crypto.Keccak256Hash([]byte("1")).Bytes(),
		common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32),
	)

	authTypeHash := crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))
	structHash := crypto.Keccak256Hash(
		authTypeHash.Bytes(),
		common.LeftPadBytes(c.funderAddress.Bytes(), 32),
		crypto.Keccak256Hash([]byte(strconv.FormatInt(timestamp, 10))).Bytes(),
		common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32),
		crypto.Keccak256Hash([]byte("This message attests that I control the given wallet")).Bytes(),
	)

	raw := append([]byte{0x19, 0x01}, domainSeparator.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	hash := crypto.Keccak256Hash(raw)

	sig, err := crypto.Sign(hash.Bytes(), c.privateKey)
	if err != nil {
		return "", err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
