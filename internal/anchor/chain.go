package anchor

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"olocus/internal/crypto"
	dErrors "olocus/pkg/domain-errors"
)

// ChainSubmitter publishes an anchor digest to a public blockchain and
// reports the resulting transaction once it is mined.
type ChainSubmitter interface {
	Submit(ctx context.Context, digest crypto.Hash) (*ChainReference, error)
}

// EthereumSubmitter embeds the digest in the data field of a plain value
// transfer to a fixed address. A 32-byte payload in calldata is the cheapest
// durable commitment; no contract is needed.
type EthereumSubmitter struct {
	client       *ethclient.Client
	privateKey   string
	toAddress    common.Address
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger
}

type EthereumOption func(*EthereumSubmitter)

func WithEthereumLogger(logger *slog.Logger) EthereumOption {
	return func(s *EthereumSubmitter) {
		s.logger = logger
	}
}

func WithReceiptPolling(interval time.Duration, maxPolls int) EthereumOption {
	return func(s *EthereumSubmitter) {
		s.pollInterval = interval
		s.maxPolls = maxPolls
	}
}

func NewEthereumSubmitter(rpcURL, privateKeyHex, toAddress string, opts ...EthereumOption) (*EthereumSubmitter, error) {
	if rpcURL == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ethereum rpc url must not be empty")
	}
	if !common.IsHexAddress(toAddress) {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid anchor destination address %q", toAddress)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "dial ethereum rpc")
	}

	s := &EthereumSubmitter{
		client:       client,
		privateKey:   strings.TrimPrefix(privateKeyHex, "0x"),
		toAddress:    common.HexToAddress(toAddress),
		pollInterval: 3 * time.Second,
		maxPolls:     40,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *EthereumSubmitter) Close() {
	s.client.Close()
}

func (s *EthereumSubmitter) Submit(ctx context.Context, digest crypto.Hash) (*ChainReference, error) {
	key, err := ethcrypto.HexToECDSA(s.privateKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "parse anchor signing key")
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "query chain id")
	}
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "query pending nonce")
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "query gas price")
	}

	data := make([]byte, len(digest))
	copy(data, digest[:])

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &s.toAddress,
		Data: data,
	})
	if err != nil {
		// 21000 base plus calldata is bounded for a 32-byte payload.
		gasLimit = 30000
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.toAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "sign anchor transaction")
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "send anchor transaction")
	}

	s.logger.InfoContext(ctx, "anchor transaction submitted",
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
	)
	return s.awaitReceipt(ctx, signed.Hash())
}

func (s *EthereumSubmitter) awaitReceipt(ctx context.Context, txHash common.Hash) (*ChainReference, error) {
	for i := 0; i < s.maxPolls; i++ {
		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, dErrors.Newf(dErrors.CodeChainSubmission, "anchor transaction %s reverted", txHash.Hex())
			}
			return &ChainReference{
				TxHash:      txHash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				ConfirmedAt: time.Now().UTC(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeChainSubmission, "wait for anchor receipt")
		case <-time.After(s.pollInterval):
		}
	}
	return nil, dErrors.Newf(dErrors.CodeChainSubmission, "anchor transaction %s not mined in time", txHash.Hex())
}
