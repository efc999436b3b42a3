package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayprotocol/commitments/sdk"
	"github.com/relayprotocol/commitments/types"
)

var (
	userAddr     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	solverAddr   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	routerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	tokenAddr    = common.HexToAddress("0x0000000000000000000000000000000000000004")
	refundAddr   = common.HexToAddress("0x0000000000000000000000000000000000000005")
	callTargetA  = common.HexToAddress("0x000000000000000000000000000000000000000a")
	callTargetB  = common.HexToAddress("0x000000000000000000000000000000000000000b")
	callTargetC  = common.HexToAddress("0x000000000000000000000000000000000000000c")
	testTxID     = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	oneEther     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	outputAmount = new(big.Int).Mul(big.NewInt(99), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
)

// fakeClient returns canned RPC responses.
type fakeClient struct {
	tx         *gethtypes.Transaction
	pending    bool
	txErr      error
	receipt    *gethtypes.Receipt
	receiptErr error
	header     *gethtypes.Header
	headerErr  error
	frame      *CallFrame
	traceErr   error

	traceCalls int
}

func (f *fakeClient) TransactionByHash(_ context.Context, _ common.Hash) (*gethtypes.Transaction, bool, error) {
	return f.tx, f.pending, f.txErr
}

func (f *fakeClient) TransactionReceipt(_ context.Context, _ common.Hash) (*gethtypes.Receipt, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeClient) HeaderByNumber(_ context.Context, _ *big.Int) (*gethtypes.Header, error) {
	return f.header, f.headerErr
}

func (f *fakeClient) TraceTransaction(_ context.Context, _ common.Hash) (*CallFrame, error) {
	f.traceCalls++
	return f.frame, f.traceErr
}

func newFakeValidator(client Client) *Validator {
	return NewTxValidatorWithClient(func(_ context.Context, _ types.ChainConfig) (Client, error) {
		return client, nil
	})
}

func evmChainConfigs() map[string]types.ChainConfig {
	return map[string]types.ChainConfig{
		"ethereum": {VMType: types.VMTypeEVM, RPCURL: "http://localhost:8545"},
		"solana":   {VMType: types.VMTypeSVM, RPCURL: "http://localhost:8899"},
	}
}

func evmCommitment() types.Commitment {
	return types.Commitment{
		Solver: solverAddr.Hex(),
		Salt:   "1",
		Inputs: []types.Input{
			{
				Chain: "ethereum",
				Payment: types.InputPayment{
					To:       solverAddr.Hex(),
					Currency: NativeCurrency,
					Amount:   oneEther.String(),
					Weight:   "1",
				},
				Refunds: []types.InputRefund{
					{
						Chain:         "ethereum",
						To:            refundAddr.Hex(),
						Currency:      NativeCurrency,
						MinimumAmount: oneEther.String(),
					},
				},
			},
		},
		Output: types.Output{
			Chain: "ethereum",
			Payment: types.OutputPayment{
				To:             userAddr.Hex(),
				Currency:       NativeCurrency,
				MinimumAmount:  outputAmount.String(),
				ExpectedAmount: outputAmount.String(),
			},
		},
	}
}

func commitmentID(t *testing.T, c types.Commitment) common.Hash {
	t.Helper()

	id, err := c.CommitmentID()
	require.NoError(t, err)

	return id
}

func nativeTx(to common.Address, value *big.Int, data []byte) *gethtypes.Transaction {
	return gethtypes.NewTx(&gethtypes.LegacyTx{To: &to, Value: value, Data: data})
}

func successReceipt(logs ...*gethtypes.Log) *gethtypes.Receipt {
	return &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs:        logs,
	}
}

func TestDetectMarkers(t *testing.T) {
	t.Parallel()

	id := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000ff")
	depositLog := &gethtypes.Log{
		Topics: []common.Hash{
			relayDepositTopic,
			id,
			common.BytesToHash(userAddr.Bytes()),
			common.BytesToHash(tokenAddr.Bytes()),
		},
	}

	tests := []struct {
		name string
		data []byte
		logs []*gethtypes.Log
		want markerSet
	}{
		{
			name: "calldata direct",
			data: id.Bytes(),
			want: markerSet{calldataDirect: true},
		},
		{
			name: "calldata suffix",
			data: append([]byte{0x01, 0x02, 0x03, 0x04}, id.Bytes()...),
			want: markerSet{calldataSuffix: true},
		},
		{
			name: "deposit log",
			logs: []*gethtypes.Log{depositLog},
			want: markerSet{depositLog: true},
		},
		{
			name: "suffix and log together",
			data: append([]byte{0x01}, id.Bytes()...),
			logs: []*gethtypes.Log{depositLog},
			want: markerSet{calldataSuffix: true, depositLog: true},
		},
		{
			name: "different id does not bind",
			data: common.HexToHash("0xee").Bytes(),
			want: markerSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := detectMarkers(id, tt.data, tt.logs)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.count(), got.count())
		})
	}
}

func TestParseTokenTransfer(t *testing.T) {
	t.Parallel()

	amount := big.NewInt(42)

	t.Run("transfer with appended id", func(t *testing.T) {
		t.Parallel()

		data, err := erc20ABI.Pack("transfer", userAddr, amount)
		require.NoError(t, err)
		data = append(data, make([]byte, 32)...)

		to, got, ok := parseTokenTransfer(data)
		require.True(t, ok)
		assert.Equal(t, userAddr, to)
		assert.Zero(t, amount.Cmp(got))
	})

	t.Run("transferFrom", func(t *testing.T) {
		t.Parallel()

		data, err := erc20ABI.Pack("transferFrom", solverAddr, userAddr, amount)
		require.NoError(t, err)

		to, got, ok := parseTokenTransfer(data)
		require.True(t, ok)
		assert.Equal(t, userAddr, to)
		assert.Zero(t, amount.Cmp(got))
	})

	t.Run("unknown selector", func(t *testing.T) {
		t.Parallel()

		_, _, ok := parseTokenTransfer([]byte{0xde, 0xad, 0xbe, 0xef})
		assert.False(t, ok)
	})

	t.Run("too short", func(t *testing.T) {
		t.Parallel()

		_, _, ok := parseTokenTransfer([]byte{0x01})
		assert.False(t, ok)
	})
}

func TestFlattenCalls(t *testing.T) {
	t.Parallel()

	frame := &CallFrame{
		Type: "CALL",
		From: userAddr,
		To:   routerAddr,
		Calls: []CallFrame{
			{Type: "CALL", From: routerAddr, To: callTargetA},
			{Type: "STATICCALL", From: routerAddr, To: callTargetB},
			{
				Type:  "CALL",
				From:  routerAddr,
				To:    callTargetB,
				Error: "execution reverted",
				Calls: []CallFrame{{Type: "CALL", From: callTargetB, To: callTargetC}},
			},
			{Type: "CALL", From: routerAddr, To: callTargetC},
		},
	}

	calls := flattenCalls(frame)

	require.Len(t, calls, 3)
	assert.Equal(t, routerAddr, calls[0].To)
	assert.Equal(t, callTargetA, calls[1].To)
	assert.Equal(t, callTargetC, calls[2].To)
}

func TestValidateInput(t *testing.T) {
	t.Parallel()

	commitment := evmCommitment()
	id := commitmentID(t, commitment)

	tests := []struct {
		name       string
		commitment types.Commitment
		chain      string
		txID       string
		client     *fakeClient
		wantStatus sdk.Status
		wantReason sdk.FailureReason
		wantAmount *big.Int
	}{
		{
			name:       "success: direct native payment",
			commitment: commitment,
			txID:       testTxID,
			client: &fakeClient{
				tx:      nativeTx(solverAddr, oneEther, id.Bytes()),
				receipt: successReceipt(),
			},
			wantStatus: sdk.StatusSuccess,
			wantAmount: oneEther,
		},
		{
			name: "success: direct token payment",
			commitment: func() types.Commitment {
				c := evmCommitment()
				c.Inputs[0].Payment.Currency = tokenAddr.Hex()

				return c
			}(),
			txID: testTxID,
			client: func() *fakeClient {
				c := evmCommitment()
				c.Inputs[0].Payment.Currency = tokenAddr.Hex()
				data, err := erc20ABI.Pack("transfer", solverAddr, oneEther)
				require.NoError(t, err)
				data = append(data, commitmentID(t, c).Bytes()...)

				return &fakeClient{
					tx:      nativeTx(tokenAddr, big.NewInt(0), data),
					receipt: successReceipt(),
				}
			}(),
			wantStatus: sdk.StatusSuccess,
			wantAmount: oneEther,
		},
		{
			name: "success: deposit contract payment",
			commitment: func() types.Commitment {
				c := evmCommitment()
				c.Inputs[0].Payment.Currency = tokenAddr.Hex()

				return c
			}(),
			txID: testTxID,
			client: func() *fakeClient {
				c := evmCommitment()
				c.Inputs[0].Payment.Currency = tokenAddr.Hex()

				return &fakeClient{
					tx: nativeTx(routerAddr, big.NewInt(0), []byte{0x01, 0x02}),
					receipt: successReceipt(&gethtypes.Log{
						Topics: []common.Hash{
							relayDepositTopic,
							commitmentID(t, c),
							common.BytesToHash(solverAddr.Bytes()),
							common.BytesToHash(tokenAddr.Bytes()),
						},
						Data: common.BigToHash(oneEther).Bytes(),
					}),
				}
			}(),
			wantStatus: sdk.StatusSuccess,
			wantAmount: oneEther,
		},
		{
			name:       "failure: unsupported chain",
			commitment: commitment,
			chain:      "unknown",
			txID:       testTxID,
			client:     &fakeClient{},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonUnsupportedChain,
		},
		{
			name:       "failure: wrong vm type",
			commitment: commitment,
			chain:      "solana",
			txID:       testTxID,
			client:     &fakeClient{},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonWrongVMType,
		},
		{
			name:       "failure: malformed transaction id",
			commitment: commitment,
			txID:       "not-a-hash",
			client:     &fakeClient{},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonMissingTransaction,
		},
		{
			name:       "failure: transaction not found",
			commitment: commitment,
			txID:       testTxID,
			client:     &fakeClient{txErr: ethereum.NotFound},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonMissingTransaction,
		},
		{
			name:       "failure: transaction pending",
			commitment: commitment,
			txID:       testTxID,
			client: &fakeClient{
				tx:      nativeTx(solverAddr, oneEther, id.Bytes()),
				pending: true,
			},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonMissingTransaction,
		},
		{
			name:       "failure: receipt not found",
			commitment: commitment,
			txID:       testTxID,
			client: &fakeClient{
				tx:         nativeTx(solverAddr, oneEther, id.Bytes()),
				receiptErr: ethereum.NotFound,
			},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonMissingTransactionReceipt,
		},
		{
			name:       "failure: transaction reverted",
			commitment: commitment,
			txID:       testTxID,
			client: &fakeClient{
				tx:      nativeTx(solverAddr, oneEther, id.Bytes()),
				receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(100)},
			},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonTransactionReverted,
		},
		{
			name:       "failure: evidence bound to another commitment",
			commitment: commitment,
			txID:       testTxID,
			client: func() *fakeClient {
				other := evmCommitment()
				other.Salt = "2"

				return &fakeClient{
					tx:      nativeTx(solverAddr, oneEther, commitmentID(t, other).Bytes()),
					receipt: successReceipt(),
				}
			}(),
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonNonMatchingTransaction,
		},
		{
			name:       "failure: ambiguous binding markers",
			commitment: commitment,
			txID:       testTxID,
			client: &fakeClient{
				tx: nativeTx(solverAddr, oneEther, id.Bytes()),
				receipt: successReceipt(&gethtypes.Log{
					Topics: []common.Hash{
						relayDepositTopic,
						id,
						common.BytesToHash(solverAddr.Bytes()),
						common.BytesToHash(common.Address{}.Bytes()),
					},
					Data: common.BigToHash(oneEther).Bytes(),
				}),
			},
			wantStatus: sdk.StatusFailure,
			wantReason: sdk.ReasonMultipleMarkers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain := tt.chain
			if chain == "" {
				chain = "ethereum"
			}
			c := tt.commitment
			c.Inputs = append([]types.Input(nil), c.Inputs...)
			c.Inputs[0].Chain = chain

			got := newFakeValidator(tt.client).ValidateInput(context.Background(), sdk.InputRequest{
				ChainConfigs:  evmChainConfigs(),
				Commitment:    c,
				InputIndex:    0,
				TransactionID: tt.txID,
			})

			assert.Equal(t, tt.wantStatus, got.Status)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, got.Reason)
			}
			if tt.wantAmount != nil {
				require.NotNil(t, got.Amount)
				assert.Zero(t, tt.wantAmount.Cmp(got.Amount))
			}
		})
	}
}

func TestValidateInputDeadline(t *testing.T) {
	t.Parallel()

	commitment := evmCommitment()
	commitment.Deadline = 1000
	id := commitmentID(t, commitment)

	client := &fakeClient{
		tx:      nativeTx(solverAddr, oneEther, id.Bytes()),
		receipt: successReceipt(),
		header:  &gethtypes.Header{Time: 999, Number: big.NewInt(100)},
	}

	got := newFakeValidator(client).ValidateInput(context.Background(), sdk.InputRequest{
		ChainConfigs:  evmChainConfigs(),
		Commitment:    commitment,
		InputIndex:    0,
		TransactionID: testTxID,
	})
	assert.Equal(t, sdk.StatusSuccess, got.Status)

	client.header = &gethtypes.Header{Time: 1001, Number: big.NewInt(100)}

	got = newFakeValidator(client).ValidateInput(context.Background(), sdk.InputRequest{
		ChainConfigs:  evmChainConfigs(),
		Commitment:    commitment,
		InputIndex:    0,
		TransactionID: testTxID,
	})
	assert.Equal(t, sdk.StatusFailure, got.Status)
	assert.Equal(t, sdk.ReasonDeadlineExceeded, got.Reason)
}

func TestClientReusedAcrossValidations(t *testing.T) {
	t.Parallel()

	commitment := evmCommitment()
	id := commitmentID(t, commitment)

	client := &fakeClient{
		tx:      nativeTx(solverAddr, oneEther, id.Bytes()),
		receipt: successReceipt(),
	}

	dials := 0
	v := NewTxValidatorWithClient(func(_ context.Context, _ types.ChainConfig) (Client, error) {
		dials++
		return client, nil
	})

	for range 2 {
		got := v.ValidateInput(context.Background(), sdk.InputRequest{
			ChainConfigs:  evmChainConfigs(),
			Commitment:    commitment,
			InputIndex:    0,
			TransactionID: testTxID,
		})
		require.Equal(t, sdk.StatusSuccess, got.Status)
	}

	assert.Equal(t, 1, dials)
}

func TestValidateRefund(t *testing.T) {
	t.Parallel()

	commitment := evmCommitment()
	id := commitmentID(t, commitment)

	client := &fakeClient{
		tx:      nativeTx(refundAddr, oneEther, id.Bytes()),
		receipt: successReceipt(),
	}

	got := newFakeValidator(client).ValidateRefund(context.Background(), sdk.RefundRequest{
		ChainConfigs:  evmChainConfigs(),
		Commitment:    commitment,
		InputIndex:    0,
		RefundIndex:   0,
		TransactionID: testTxID,
	})

	require.Equal(t, sdk.StatusSuccess, got.Status)
	assert.Zero(t, oneEther.Cmp(got.Amount))

	got = newFakeValidator(client).ValidateRefund(context.Background(), sdk.RefundRequest{
		ChainConfigs:  evmChainConfigs(),
		Commitment:    commitment,
		InputIndex:    0,
		RefundIndex:   5,
		TransactionID: testTxID,
	})

	require.Equal(t, sdk.StatusFailure, got.Status)
	assert.Equal(t, sdk.ReasonInvalidRefund, got.Reason)
}

func TestValidateOutput(t *testing.T) {
	t.Parallel()

	t.Run("success: direct native payment", func(t *testing.T) {
		t.Parallel()

		commitment := evmCommitment()
		id := commitmentID(t, commitment)

		client := &fakeClient{
			tx:      nativeTx(userAddr, outputAmount, id.Bytes()),
			receipt: successReceipt(),
		}

		got := newFakeValidator(client).ValidateOutput(context.Background(), sdk.OutputRequest{
			ChainConfigs:  evmChainConfigs(),
			Commitment:    commitment,
			TransactionID: testTxID,
		})

		require.Equal(t, sdk.StatusSuccess, got.Status)
		assert.Zero(t, outputAmount.Cmp(got.Amount))
		assert.Zero(t, client.traceCalls, "direct payment must not fetch a trace")
	})

	t.Run("success: internal native payment via trace", func(t *testing.T) {
		t.Parallel()

		commitment := evmCommitment()
		id := commitmentID(t, commitment)

		client := &fakeClient{
			tx:      nativeTx(routerAddr, outputAmount, append([]byte{0x01, 0x02, 0x03, 0x04}, id.Bytes()...)),
			receipt: successReceipt(),
			frame: &CallFrame{
				Type: "CALL",
				From: solverAddr,
				To:   routerAddr,
				Calls: []CallFrame{
					{Type: "CALL", From: routerAddr, To: userAddr, Value: (*hexutil.Big)(outputAmount)},
				},
			},
		}

		got := newFakeValidator(client).ValidateOutput(context.Background(), sdk.OutputRequest{
			ChainConfigs:  evmChainConfigs(),
			Commitment:    commitment,
			TransactionID: testTxID,
		})

		require.Equal(t, sdk.StatusSuccess, got.Status)
		assert.Zero(t, outputAmount.Cmp(got.Amount))
	})

	t.Run("success: token payment via transfer log", func(t *testing.T) {
		t.Parallel()

		commitment := evmCommitment()
		commitment.Output.Payment.Currency = tokenAddr.Hex()
		id := commitmentID(t, commitment)

		client := &fakeClient{
			tx: nativeTx(routerAddr, big.NewInt(0), append([]byte{0x01}, id.Bytes()...)),
			receipt: successReceipt(&gethtypes.Log{
				Address: tokenAddr,
				Topics: []common.Hash{
					transferTopic,
					common.BytesToHash(solverAddr.Bytes()),
					common.BytesToHash(userAddr.Bytes()),
				},
				Data: common.BigToHash(outputAmount).Bytes(),
			}),
		}

		got := newFakeValidator(client).ValidateOutput(context.Background(), sdk.OutputRequest{
			ChainConfigs:  evmChainConfigs(),
			Commitment:    commitment,
			TransactionID: testTxID,
		})

		require.Equal(t, sdk.StatusSuccess, got.Status)
		assert.Zero(t, outputAmount.Cmp(got.Amount))
	})

	t.Run("failure: no payment found", func(t *testing.T) {
		t.Parallel()

		commitment := evmCommitment()
		id := commitmentID(t, commitment)

		client := &fakeClient{
			tx:      nativeTx(routerAddr, big.NewInt(0), append([]byte{0x01}, id.Bytes()...)),
			receipt: successReceipt(),
			frame:   &CallFrame{Type: "CALL", From: solverAddr, To: routerAddr},
		}

		got := newFakeValidator(client).ValidateOutput(context.Background(), sdk.OutputRequest{
			ChainConfigs:  evmChainConfigs(),
			Commitment:    commitment,
			TransactionID: testTxID,
		})

		require.Equal(t, sdk.StatusFailure, got.Status)
		assert.Equal(t, sdk.ReasonCouldNotFindPayment, got.Reason)
	})
}

func TestValidateOutputCallMatching(t *testing.T) {
	t.Parallel()

	encode := func(t *testing.T, to common.Address, data []byte) string {
		t.Helper()

		encoded, err := EncodeCall(Call{From: routerAddr, To: to, Data: data, Value: big.NewInt(0)})
		require.NoError(t, err)

		return encoded
	}

	newClient := func(id common.Hash) *fakeClient {
		return &fakeClient{
			tx:      nativeTx(routerAddr, outputAmount, append([]byte{0x01, 0x02, 0x03, 0x04}, id.Bytes()...)),
			receipt: successReceipt(),
			frame: &CallFrame{
				Type: "CALL",
				From: solverAddr,
				To:   routerAddr,
				Calls: []CallFrame{
					{Type: "CALL", From: routerAddr, To: userAddr, Value: (*hexutil.Big)(outputAmount)},
					{Type: "CALL", From: routerAddr, To: callTargetA, Input: hexutil.Bytes{0xaa}},
					{Type: "CALL", From: routerAddr, To: callTargetB, Input: hexutil.Bytes{0xbb}},
					{Type: "CALL", From: routerAddr, To: callTargetC, Input: hexutil.Bytes{0xcc}},
				},
			},
		}
	}

	validate := func(t *testing.T, calls []string) (sdk.ValidationResult, *fakeClient) {
		t.Helper()

		commitment := evmCommitment()
		commitment.Output.Calls = calls
		id := commitmentID(t, commitment)
		client := newClient(id)

		got := newFakeValidator(client).ValidateOutput(context.Background(), sdk.OutputRequest{
			ChainConfigs:  evmChainConfigs(),
			Commitment:    commitment,
			TransactionID: testTxID,
		})

		return got, client
	}

	t.Run("calls in committed order match", func(t *testing.T) {
		t.Parallel()

		got, client := validate(t, []string{
			encode(t, callTargetA, []byte{0xaa}),
			encode(t, callTargetC, []byte{0xcc}),
		})

		assert.Equal(t, sdk.StatusSuccess, got.Status)
		// Amount extraction and call matching share one memoized trace fetch.
		assert.Equal(t, 1, client.traceCalls)
	})

	t.Run("calls out of order fail", func(t *testing.T) {
		t.Parallel()

		got, _ := validate(t, []string{
			encode(t, callTargetC, []byte{0xcc}),
			encode(t, callTargetA, []byte{0xaa}),
		})

		require.Equal(t, sdk.StatusFailure, got.Status)
		assert.Equal(t, sdk.ReasonOutputCallsNotExecuted, got.Reason)
	})

	t.Run("a trace entry cannot satisfy two calls", func(t *testing.T) {
		t.Parallel()

		got, _ := validate(t, []string{
			encode(t, callTargetA, []byte{0xaa}),
			encode(t, callTargetA, []byte{0xaa}),
		})

		require.Equal(t, sdk.StatusFailure, got.Status)
		assert.Equal(t, sdk.ReasonOutputCallsNotExecuted, got.Reason)
	})

	t.Run("malformed committed call fails", func(t *testing.T) {
		t.Parallel()

		got, _ := validate(t, []string{"0x1234"})

		require.Equal(t, sdk.StatusFailure, got.Status)
		assert.Equal(t, sdk.ReasonInvalidOutputCall, got.Reason)
	})
}
