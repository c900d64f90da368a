package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/observability"
)

// Submission failure reasons. Exact strings, consumers match on them.
const (
	ReasonDeadline = "deadline passed"
	ReasonTimeout  = "timeout"
)

// DefaultSubmitTimeout bounds one relay round trip.
const DefaultSubmitTimeout = 5 * time.Second

// Config configures the Relay.
type Config struct {
	// Endpoint is the private relay RPC URL.
	Endpoint string
	// SubmitTimeout bounds one submission round trip.
	SubmitTimeout time.Duration
}

// Relay signs trades and submits them as private transactions. Every
// failure comes back inside ExecResult; the relay boundary never raises.
type Relay struct {
	config  Config
	client  *http.Client
	chainID *big.Int
	// txKey signs the transaction itself.
	txKey *ecdsa.PrivateKey
	// authKey signs the request body for the relay's identity header.
	authKey  *ecdsa.PrivateKey
	authAddr common.Address
	logger   zerolog.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// New creates a Relay.
func New(config Config, chainID *big.Int, txKey, authKey *ecdsa.PrivateKey, logger zerolog.Logger) *Relay {
	if config.SubmitTimeout == 0 {
		config.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Relay{
		config:   config,
		client:   &http.Client{},
		chainID:  chainID,
		txKey:    txKey,
		authKey:  authKey,
		authAddr: crypto.PubkeyToAddress(authKey.PublicKey),
		logger:   logger.With().Str("component", "relay").Logger(),
		now:      time.Now,
	}
}

// Execute signs and submits one trade. A deadline already in the past is
// rejected locally, before anything touches the network.
func (r *Relay) Execute(ctx context.Context, params domain.ExecParams) domain.ExecResult {
	if r.now().Unix() > params.Deadline {
		r.logger.Warn().Int64("deadline", params.Deadline).Msg("trade expired before submission")
		observability.RecordTrade(ReasonDeadline)
		return domain.ExecResult{OK: false, Error: ReasonDeadline}
	}

	signed, err := r.sign(params)
	if err != nil {
		observability.RecordTrade("sign")
		return domain.ExecResult{OK: false, Error: fmt.Sprintf("sign: %v", err)}
	}

	hash, err := r.submit(ctx, signed)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn().Msg("relay submission timed out")
			observability.RecordTrade(ReasonTimeout)
			return domain.ExecResult{OK: false, Error: ReasonTimeout}
		}
		observability.RecordTrade("submit")
		return domain.ExecResult{OK: false, Error: err.Error()}
	}

	r.logger.Info().Str("tx", hash.Hex()).Msg("trade submitted")
	observability.RecordTrade("")
	return domain.ExecResult{OK: true, TxHash: hash}
}

// sign builds and signs the dynamic-fee transaction.
func (r *Relay) sign(params domain.ExecParams) (*types.Transaction, error) {
	tx := &types.DynamicFeeTx{
		ChainID:   r.chainID,
		Nonce:     params.Nonce,
		To:        &params.To,
		Gas:       params.GasLimit,
		GasFeeCap: params.MaxFeePerGas,
		GasTipCap: params.MaxPriorityFeePerGas,
		Data:      params.RouteCalldata,
	}
	return types.SignNewTx(r.txKey, types.LatestSignerForChainID(r.chainID), tx)
}

// submit sends the signed transaction to the relay.
func (r *Relay) submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode tx: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_sendPrivateTransaction",
		"params": []interface{}{
			map[string]string{"tx": hexutil.Encode(raw)},
		},
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal request: %w", err)
	}

	signature, err := r.signBody(body)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", signature)

	resp, err := r.client.Do(req)
	if err != nil {
		return common.Hash{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.Hash{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return common.Hash{}, fmt.Errorf("relay status %d: %s", resp.StatusCode, respBody)
	}

	var parsed struct {
		Result common.Hash `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return common.Hash{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return common.Hash{}, fmt.Errorf("relay error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

// signBody produces the relay identity header: the auth address and its
// signature over the hashed request body.
func (r *Relay) signBody(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed)), r.authKey)
	if err != nil {
		return "", err
	}
	return r.authAddr.Hex() + ":" + hexutil.Encode(sig), nil
}
