package execution

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Polymarket CTF Exchange on Polygon mainnet
const (
	polygonChainID     = 137
	ctfExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	zeroAddress        = "0x0000000000000000000000000000000000000000"
)

// Order sides on the exchange contract
const (
	sideBuy  = 0
	sideSell = 1
)

// ctfOrder mirrors the Order struct of the CTF Exchange contract
type ctfOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

type signedOrder struct {
	Order     *ctfOrder
	Signature string
}

// orderSigner produces EIP-712 signatures for CTF Exchange orders
type orderSigner struct {
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	funderAddress common.Address
	signatureType int
}

func newOrderSigner(pk *ecdsa.PrivateKey, signer, funder common.Address, signatureType int) *orderSigner {
	return &orderSigner{
		privateKey:    pk,
		signerAddress: signer,
		funderAddress: funder,
		signatureType: signatureType,
	}
}

// signedBuy builds and signs a buy order for size shares at the given limit
// price. USDC and outcome shares both use 6 decimal units on chain.
func (s *orderSigner) signedBuy(tokenID string, price, size decimal.Decimal) (*signedOrder, error) {
	tokenIDInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("token id is not a decimal integer: %q", tokenID)
	}

	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()

	maker := s.funderAddress
	if maker == (common.Address{}) {
		maker = s.signerAddress
	}

	order := &ctfOrder{
		Salt:          big.NewInt(rand.Int63()),
		Maker:         maker,
		Signer:        s.signerAddress,
		Taker:         common.HexToAddress(zeroAddress),
		TokenID:       tokenIDInt,
		MakerAmount:   usdcUnits(sizeF * priceF),
		TakerAmount:   shareUnits(sizeF),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(1000),
		Side:          sideBuy,
		SignatureType: uint8(s.signatureType),
	}
	return s.sign(order)
}

func (s *orderSigner) sign(order *ctfOrder) (*signedOrder, error) {
	typed := orderTypedData(order)

	domainSeparator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("domain hash failed: %w", err)
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("message hash failed: %w", err)
	}

	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	hash := crypto.Keccak256Hash(raw)

	sig, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("order signing failed: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return &signedOrder{Order: order, Signature: fmt.Sprintf("0x%x", sig)}, nil
}

func orderTypedData(order *ctfOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(polygonChainID),
			VerifyingContract: common.HexToAddress(ctfExchangeAddress).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

// usdcUnits converts a USDC amount to 6-decimal units. Truncates rather than
// rounds so the signed amount never exceeds the budgeted notional.
func usdcUnits(amount float64) *big.Int {
	return big.NewInt(int64(amount * 1e6))
}

// shareUnits converts a share quantity to 6-decimal units, rounded to the
// 4-decimal precision the exchange accepts.
func shareUnits(amount float64) *big.Int {
	rounded := float64(int64(amount*10000+0.5)) / 10000
	return big.NewInt(int64(rounded * 1e6))
}

// apiPayload converts the signed order to the CLOB /order request body.
// The owner field must be the API key, and the signature sits inside the
// order object, matching py-clob-client.
func (o *signedOrder) apiPayload(apiKey, orderType string) map[string]interface{} {
	side := "BUY"
	if o.Order.Side == sideSell {
		side = "SELL"
	}
	return map[string]interface{}{
		"order": map[string]interface{}{
			"salt":          o.Order.Salt.Int64(),
			"maker":         o.Order.Maker.Hex(),
			"signer":        o.Order.Signer.Hex(),
			"taker":         o.Order.Taker.Hex(),
			"tokenId":       o.Order.TokenID.String(),
			"makerAmount":   o.Order.MakerAmount.String(),
			"takerAmount":   o.Order.TakerAmount.String(),
			"expiration":    o.Order.Expiration.String(),
			"nonce":         o.Order.Nonce.String(),
			"feeRateBps":    o.Order.FeeRateBps.String(),
			"side":          side,
			"signatureType": int(o.Order.SignatureType),
			"signature":     o.Signature,
		},
		"owner":     apiKey,
		"orderType": orderType,
		"postOnly":  false,
	}
}
