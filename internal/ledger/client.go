// Package ledger is the typed, retry-safe RPC client for the Oddyssey
// contract. All failures are reported through the closed domain.LedgerError
// taxonomy; nonce management is single-writer per signing key.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// oddysseyABI covers the four contract entry points the engine uses plus the
// currentCycleId view read after a confirmed cycle creation.
const oddysseyABI = `[
	{"name":"startDailyCycle","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"matches","type":"tuple[10]","components":[
			{"name":"id","type":"bytes32"},
			{"name":"oddsHome","type":"uint32"},
			{"name":"oddsDraw","type":"uint32"},
			{"name":"oddsAway","type":"uint32"},
			{"name":"oddsOver","type":"uint32"},
			{"name":"oddsUnder","type":"uint32"},
			{"name":"startTime","type":"uint64"}
		]}],"outputs":[{"type":"uint256"}]},
	{"name":"resolveDailyCycle","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"cycleId","type":"uint256"},
		{"name":"results","type":"tuple[10]","components":[
			{"name":"moneyline","type":"uint8"},
			{"name":"overUnder","type":"uint8"}
		]}],"outputs":[]},
	{"name":"submitOutcome","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"marketId","type":"bytes32"},
		{"name":"result","type":"bytes"}],"outputs":[]},
	{"name":"getOutcome","type":"function","stateMutability":"view","inputs":[
		{"name":"marketId","type":"bytes32"}],"outputs":[{"type":"bytes"}]},
	{"name":"currentCycleId","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

// gasBufferPct is added on top of the gas estimate.
const gasBufferPct = 10

// receiptPollInterval is how often the client polls for a transaction
// receipt while waiting for confirmations.
const receiptPollInterval = 3 * time.Second

// Config holds ledger connection parameters.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKeyHex   string
	// GasPriceCeilingWei caps the suggested gas price. Zero means no cap.
	GasPriceCeilingWei int64
	// Confirmations is the number of blocks a write waits for (default 1).
	Confirmations uint64
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
}

// Client is the Oddyssey contract client. A mutex serialises all writes so at
// most one transaction per signing key is in flight.
type Client struct {
	eth           *ethclient.Client
	abi           abi.ABI
	contract      common.Address
	key           *ecdsa.PrivateKey
	from          common.Address
	chainID       *big.Int
	gasCeiling    *big.Int
	confirmations uint64
	writeTimeout  time.Duration
	readTimeout   time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	nonce     uint64
	nonceInit bool
}

// Dial connects to the RPC endpoint, loads the signing key, and resolves the
// chain id.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(oddysseyABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}

	keyHex := strings.TrimPrefix(cfg.PrivateKeyHex, "0x")
	keyBuf, err := hex.DecodeString(keyHex)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: decode signing key: %w", err)
	}
	key, err := ethcrypto.ToECDSA(keyBuf)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: load signing key: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: chain id: %w", err)
	}

	confirmations := cfg.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 120 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}

	var ceiling *big.Int
	if cfg.GasPriceCeilingWei > 0 {
		ceiling = big.NewInt(cfg.GasPriceCeilingWei)
	}

	return &Client{
		eth:           eth,
		abi:           parsed,
		contract:      common.HexToAddress(cfg.ContractAddress),
		key:           key,
		from:          ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:       chainID,
		gasCeiling:    ceiling,
		confirmations: confirmations,
		writeTimeout:  writeTimeout,
		readTimeout:   readTimeout,
		logger:        logger.With(slog.String("component", "ledger")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Signer returns the address of the signing key.
func (c *Client) Signer() common.Address {
	return c.from
}

// FixtureIDBytes32 hashes a fixture id to its on-chain identifier: keccak256
// of the decimal string.
func FixtureIDBytes32(id domain.FixtureID) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(strconv.FormatInt(int64(id), 10)))
}

// cycleMatch mirrors the contract's match tuple.
type cycleMatch struct {
	ID        [32]byte
	OddsHome  uint32
	OddsDraw  uint32
	OddsAway  uint32
	OddsOver  uint32
	OddsUnder uint32
	StartTime uint64
}

// matchResult mirrors the contract's result tuple.
type matchResult struct {
	Moneyline uint8
	OverUnder uint8
}

// StartNewDailyCycle submits the ten matches with their frozen odds and
// returns the ledger-assigned cycle id after the transaction confirms.
func (c *Client) StartNewDailyCycle(ctx context.Context, matches []domain.MatchEntry) (int64, error) {
	if len(matches) != domain.CycleSize {
		return 0, &domain.LedgerError{Kind: domain.LedgerReverted, Op: "startDailyCycle",
			Reason: fmt.Sprintf("expected %d matches, got %d", domain.CycleSize, len(matches))}
	}

	var tuple [domain.CycleSize]cycleMatch
	for i, m := range matches {
		tuple[i] = cycleMatch{
			ID:        FixtureIDBytes32(m.FixtureID),
			OddsHome:  m.OddsHome,
			OddsDraw:  m.OddsDraw,
			OddsAway:  m.OddsAway,
			OddsOver:  m.OddsOver,
			OddsUnder: m.OddsUnder,
			StartTime: uint64(m.KickoffUTC.Unix()),
		}
	}

	data, err := c.abi.Pack("startDailyCycle", tuple)
	if err != nil {
		return 0, &domain.LedgerError{Kind: domain.LedgerReverted, Op: "startDailyCycle",
			Reason: "abi pack failed", Err: err}
	}

	if _, err := c.submit(ctx, "startDailyCycle", data); err != nil {
		return 0, err
	}

	return c.currentCycleID(ctx)
}

// ResolveDailyCycle submits the resolution artifact and returns the confirmed
// transaction hash.
func (c *Client) ResolveDailyCycle(ctx context.Context, cycleID int64, artifact domain.ResolutionArtifact) (string, error) {
	var results [domain.CycleSize]matchResult
	for i, o := range artifact.Outcomes {
		results[i] = matchResult{Moneyline: uint8(o.Moneyline), OverUnder: uint8(o.OverUnder)}
	}

	data, err := c.abi.Pack("resolveDailyCycle", big.NewInt(cycleID), results)
	if err != nil {
		return "", &domain.LedgerError{Kind: domain.LedgerReverted, Op: "resolveDailyCycle",
			Reason: "abi pack failed", Err: err}
	}

	receipt, err := c.submit(ctx, "resolveDailyCycle", data)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// SubmitGuidedOutcome submits a single fixture outcome for a non-Oddyssey
// guided pool and returns the confirmed transaction hash.
func (c *Client) SubmitGuidedOutcome(ctx context.Context, marketID [32]byte, result []byte) (string, error) {
	data, err := c.abi.Pack("submitOutcome", marketID, result)
	if err != nil {
		return "", &domain.LedgerError{Kind: domain.LedgerReverted, Op: "submitOutcome",
			Reason: "abi pack failed", Err: err}
	}

	receipt, err := c.submit(ctx, "submitOutcome", data)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// GetOutcome reads a previously submitted guided outcome. The second return
// is false when no outcome has been submitted.
func (c *Client) GetOutcome(ctx context.Context, marketID [32]byte) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	data, err := c.abi.Pack("getOutcome", marketID)
	if err != nil {
		return nil, false, &domain.LedgerError{Kind: domain.LedgerReverted, Op: "getOutcome",
			Reason: "abi pack failed", Err: err}
	}

	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, false, c.classify("getOutcome", err)
	}

	out, err := c.abi.Unpack("getOutcome", res)
	if err != nil {
		return nil, false, &domain.LedgerError{Kind: domain.LedgerReverted, Op: "getOutcome",
			Reason: "abi unpack failed", Err: err}
	}
	raw, _ := out[0].([]byte)
	if len(raw) == 0 {
		return nil, false, nil
	}
	return raw, true, nil
}

// currentCycleID reads the ledger's latest cycle id.
func (c *Client) currentCycleID(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	data, err := c.abi.Pack("currentCycleId")
	if err != nil {
		return 0, &domain.LedgerError{Kind: domain.LedgerReverted, Op: "currentCycleId",
			Reason: "abi pack failed", Err: err}
	}

	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return 0, c.classify("currentCycleId", err)
	}
	if len(res) < 32 {
		return 0, &domain.LedgerError{Kind: domain.LedgerTransient, Op: "currentCycleId",
			Reason: fmt.Sprintf("short result (%d bytes)", len(res))}
	}
	return new(big.Int).SetBytes(res).Int64(), nil
}

// submit signs and sends a contract call, then waits for the configured
// number of confirmations. It holds the client mutex for the whole round so
// writes for the signing key are strictly sequential. A wait timeout is
// retried once with the same signed transaction before being surfaced.
func (c *Client) submit(ctx context.Context, op string, data []byte) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return nil, c.classify(op, err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, c.classify(op, err)
	}
	if c.gasCeiling != nil && gasPrice.Cmp(c.gasCeiling) > 0 {
		gasPrice = new(big.Int).Set(c.gasCeiling)
	}

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return nil, c.classify(op, err)
	}
	gas += gas * gasBufferPct / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.contract,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return nil, &domain.LedgerError{Kind: domain.LedgerReverted, Op: op,
			Reason: "signing failed", Err: err}
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		lerr := c.classify(op, err)
		if le, ok := domain.AsLedgerError(lerr); ok && le.Kind == domain.LedgerNonceCollision {
			c.nonceInit = false
		}
		return nil, lerr
	}

	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("op", op),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := c.waitConfirmed(ctx, signed.Hash())
	if err != nil {
		if le, ok := domain.AsLedgerError(err); ok && le.Kind == domain.LedgerTimeout {
			// Retry once with the same nonce: re-broadcast the identical
			// signed transaction and wait again.
			retryCtx, retryCancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
			defer retryCancel()
			_ = c.eth.SendTransaction(retryCtx, signed)
			receipt, err = c.waitConfirmed(retryCtx, signed.Hash())
		}
		if err != nil {
			return nil, err
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &domain.LedgerError{Kind: domain.LedgerReverted, Op: op,
			Reason: c.revertReason(ctx, signed, receipt)}
	}

	c.nonce = nonce + 1
	return receipt, nil
}

// nextNonce returns the nonce for the next transaction, querying the node on
// first use or after a collision.
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	if !c.nonceInit {
		n, err := c.eth.PendingNonceAt(ctx, c.from)
		if err != nil {
			return 0, err
		}
		c.nonce = n
		c.nonceInit = true
	}
	return c.nonce, nil
}

// waitConfirmed polls for the transaction receipt and then waits until the
// configured confirmation depth is reached.
func (c *Client) waitConfirmed(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			receipt = r
			break
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, c.classify("receipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, &domain.LedgerError{Kind: domain.LedgerTimeout, Op: "receipt",
				Err: ctx.Err()}
		case <-ticker.C:
		}
	}

	for {
		head, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return nil, c.classify("confirmations", err)
		}
		if head >= receipt.BlockNumber.Uint64()+c.confirmations-1 {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, &domain.LedgerError{Kind: domain.LedgerTimeout, Op: "confirmations",
				Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// revertReason replays a reverted transaction as a call to extract the revert
// string when the node provides one.
func (c *Client) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	msg := ethereum.CallMsg{
		From:     c.from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	if _, err := c.eth.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
		if reason, ok := extractRevertReason(err); ok {
			return reason
		}
		return err.Error()
	}
	return "reverted without reason"
}

// classify converts an untyped RPC error into the closed LedgerError
// taxonomy. This is the only place that inspects node error text: geth and
// friends expose these conditions as strings, and the adapter's job is to
// turn them into typed discriminants before they cross a component boundary.
func (c *Client) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.LedgerError{Kind: domain.LedgerTimeout, Op: op, Err: err}
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "nonce too low"),
		strings.Contains(text, "nonce too high"),
		strings.Contains(text, "already known"),
		strings.Contains(text, "replacement transaction underpriced"):
		return &domain.LedgerError{Kind: domain.LedgerNonceCollision, Op: op, Err: err}
	case strings.Contains(text, "insufficient funds"):
		return &domain.LedgerError{Kind: domain.LedgerInsufficientFunds, Op: op, Err: err}
	case strings.Contains(text, "execution reverted"):
		reason, _ := extractRevertReason(err)
		return &domain.LedgerError{Kind: domain.LedgerReverted, Op: op, Reason: reason, Err: err}
	default:
		return &domain.LedgerError{Kind: domain.LedgerTransient, Op: op, Err: err}
	}
}

// extractRevertReason decodes the standard Error(string) revert payload from
// an rpc DataError when present.
func extractRevertReason(err error) (string, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if !errors.As(err, &de) {
		return "", false
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return "", false
	}
	raw, decodeErr := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
	if decodeErr != nil || len(raw) < 4 {
		return "", false
	}
	// Error(string) selector is 0x08c379a0.
	if raw[0] != 0x08 || raw[1] != 0xc3 || raw[2] != 0x79 || raw[3] != 0xa0 {
		return "", false
	}
	stringTy, _ := abi.NewType("string", "", nil)
	unpacked, unpackErr := (abi.Arguments{{Type: stringTy}}).Unpack(raw[4:])
	if unpackErr != nil || len(unpacked) == 0 {
		return "", false
	}
	reason, _ := unpacked[0].(string)
	return reason, reason != ""
}
