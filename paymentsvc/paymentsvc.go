// Package paymentsvc implements IVXP's PaymentService: sending a USDC
// transfer and verifying that an on-chain transaction matches an expected
// (from, to, amount) triple.
package paymentsvc

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ivxp-protocol/ivxp-go"
)

// usdcDecimals is the fixed-point precision of USDC on every supported network.
const usdcDecimals = 6

// erc20ABIJSON is the minimal ERC-20 surface IVXP needs: transfer,
// balanceOf, and the Transfer event used to verify settlement.
const erc20ABIJSON = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("paymentsvc: invalid embedded ERC-20 ABI: %v", err))
	}
	erc20ABI = parsed
}

// Backend is the subset of an Ethereum JSON-RPC client PaymentService needs.
// Satisfied by *ethclient.Client; mocked in tests.
type Backend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	NetworkID(ctx context.Context) (*big.Int, error)
}

// Expected describes the on-chain facts a verified transaction must match.
type Expected struct {
	From      string
	To        string
	AmountUsdc string
}

// Service sends and verifies USDC transfers on a single configured network.
type Service struct {
	backend     Backend
	privateKey  *ecdsa.PrivateKey
	address     common.Address
	usdcAddress common.Address
}

// New builds a Service for a client or provider that holds privateKeyHex and
// settles against the USDC contract at usdcAddress through backend.
func New(backend Backend, privateKeyHex, usdcAddress string) (*Service, error) {
	trimmed := strings.TrimPrefix(privateKeyHex, "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, ivxp.Wrap(ivxp.ErrInvalidPrivateKey, "invalid private key", err)
	}
	return &Service{
		backend:     backend,
		privateKey:  key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		usdcAddress: common.HexToAddress(usdcAddress),
	}, nil
}

// NewFromRPC dials an Ethereum JSON-RPC endpoint and wraps it as a Backend.
func NewFromRPC(ctx context.Context, rpcURL, privateKeyHex, usdcAddress string) (*Service, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, ivxp.Wrap(ivxp.ErrNetworkError, "failed to dial RPC endpoint", err).WithRecoverable(true)
	}
	return New(client, privateKeyHex, usdcAddress)
}

// Address returns the sender's checksummed address.
func (s *Service) Address() string {
	return s.address.Hex()
}

// Send submits a USDC transfer of amountUsdc (a decimal string with exactly
// 6 fractional digits) to address `to` and returns the transaction hash.
func (s *Service) Send(ctx context.Context, to, amountUsdc string) (string, error) {
	amount, err := ParseUsdc(amountUsdc)
	if err != nil {
		return "", err
	}

	toAddr := common.HexToAddress(to)
	data, err := erc20ABI.Pack("transfer", toAddr, amount)
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrRequestFailed, "failed to encode transfer call", err)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrNetworkError, "failed to fetch nonce", err).WithRecoverable(true)
	}
	chainID, err := s.backend.NetworkID(ctx)
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrNetworkError, "failed to fetch chain id", err).WithRecoverable(true)
	}
	tip, maxFee, err := s.estimateFees(ctx)
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrNetworkError, "failed to estimate gas fees", err).WithRecoverable(true)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       100_000,
		To:        &s.usdcAddress,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrRequestFailed, "failed to sign transaction", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", ivxp.Wrap(ivxp.ErrNetworkError, "failed to broadcast transaction", err).WithRecoverable(true)
	}

	return signedTx.Hash().Hex(), nil
}

// Verify reports whether the on-chain transfer log for txHash matches want's
// from, to, and amount. A network failure while reading the chain surfaces
// as a transport error; a finding transaction that simply doesn't match
// returns (false, nil).
func (s *Service) Verify(ctx context.Context, txHash string, want Expected) (bool, error) {
	receipt, err := s.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return false, ivxp.Wrap(ivxp.ErrNetworkError, "failed to fetch transaction receipt", err).WithRecoverable(true)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, nil
	}

	wantAmount, err := ParseUsdc(want.AmountUsdc)
	if err != nil {
		return false, err
	}

	transferTopic := erc20ABI.Events["Transfer"].ID

	for _, log := range receipt.Logs {
		if !strings.EqualFold(log.Address.Hex(), s.usdcAddress.Hex()) {
			continue
		}
		if len(log.Topics) != 3 || log.Topics[0] != transferTopic {
			continue
		}
		from := common.HexToAddress(log.Topics[1].Hex())
		to := common.HexToAddress(log.Topics[2].Hex())
		value := new(big.Int).SetBytes(log.Data)

		if !strings.EqualFold(from.Hex(), want.From) {
			continue
		}
		if !strings.EqualFold(to.Hex(), want.To) {
			continue
		}
		if value.Cmp(wantAmount) != 0 {
			continue
		}
		return true, nil
	}

	return false, nil
}

// GetBalance returns addr's USDC balance as a decimal string with 6
// fractional digits.
func (s *Service) GetBalance(ctx context.Context, addr string) (string, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(addr))
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrRequestFailed, "failed to encode balanceOf call", err)
	}
	result, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &s.usdcAddress, Data: data}, nil)
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrNetworkError, "failed to call balanceOf", err).WithRecoverable(true)
	}
	outputs, err := erc20ABI.Unpack("balanceOf", result)
	if err != nil || len(outputs) != 1 {
		return "", ivxp.Wrap(ivxp.ErrInvalidResponse, "failed to decode balanceOf result", err)
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return "", ivxp.New(ivxp.ErrInvalidResponse, "unexpected balanceOf return type")
	}
	return FormatUsdc(balance), nil
}

func (s *Service) estimateFees(ctx context.Context) (tip, maxFee *big.Int, err error) {
	gwei := big.NewInt(1_000_000_000)
	fallbackTip := new(big.Int).Div(gwei, big.NewInt(10))
	fallbackMax := gwei

	tip, err = s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return fallbackTip, fallbackMax, nil
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil || header.BaseFee == nil {
		return tip, new(big.Int).Add(tip, gwei), nil
	}
	maxFee = new(big.Int).Add(new(big.Int).Mul(big.NewInt(2), header.BaseFee), tip)
	return tip, maxFee, nil
}

// ParseUsdc parses a decimal string with exactly 6 fractional digits into
// its integer micro-USDC representation.
func ParseUsdc(amount string) (*big.Int, error) {
	parts := strings.SplitN(amount, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) != usdcDecimals {
		return nil, ivxp.New(ivxp.ErrInvalidRequestParams, fmt.Sprintf("amount %q must have exactly %d fractional digits", amount, usdcDecimals))
	}
	combined := whole + frac
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, ivxp.New(ivxp.ErrInvalidRequestParams, fmt.Sprintf("amount %q is not a valid decimal", amount))
	}
	return value, nil
}

// FormatUsdc formats a micro-USDC integer as a decimal string with exactly
// 6 fractional digits.
func FormatUsdc(micro *big.Int) string {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(usdcDecimals), nil)
	whole := new(big.Int).Div(micro, scale)
	frac := new(big.Int).Mod(micro, scale)
	return fmt.Sprintf("%s.%06d", whole.String(), frac.Int64())
}
