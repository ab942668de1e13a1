package dlmm

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/solana"
	solstub "dlmm-risk-manager/internal/solana/stub"
)

func lbPairData(activeID int32, binStep uint16, mintX, mintY []byte) []byte {
	data := make([]byte, 904)
	binary.LittleEndian.PutUint32(data[offActiveID:], uint32(activeID))
	binary.LittleEndian.PutUint16(data[offBinStep:], binStep)
	copy(data[offTokenXMint:], mintX)
	copy(data[offTokenYMint:], mintY)
	return data
}

func mintData(decimals uint8) []byte {
	data := make([]byte, 82)
	data[offMintDecimals] = decimals
	return data
}

func key(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestDecodeLbPair(t *testing.T) {
	data := lbPairData(-150, 25, key(1), key(2))

	p, err := DecodeLbPair(data)
	require.NoError(t, err)
	assert.Equal(t, int32(-150), p.ActiveID)
	assert.Equal(t, uint16(25), p.BinStep)
	assert.Equal(t, base58.Encode(key(1)), p.TokenXMint)
	assert.Equal(t, base58.Encode(key(2)), p.TokenYMint)

	_, err = DecodeLbPair(data[:100])
	assert.Error(t, err)

	_, err = DecodeLbPair(lbPairData(1, 0, key(1), key(2)))
	assert.Error(t, err, "zero bin step")
}

func TestDecodeMintDecimals(t *testing.T) {
	d, err := DecodeMintDecimals(mintData(9))
	require.NoError(t, err)
	assert.Equal(t, uint8(9), d)

	_, err = DecodeMintDecimals(make([]byte, 10))
	assert.Error(t, err)
}

func TestPrice(t *testing.T) {
	assert.Equal(t, 1.0, PricePerLamport(0, 10))
	assert.InDelta(t, 1.001, PricePerLamport(1, 10), 1e-12)
	assert.InDelta(t, 1/1.001, PricePerLamport(-1, 10), 1e-12)

	// SOL (9) / USDC (6): a lamport ratio of 0.15 is 150 USDC per SOL.
	assert.InDelta(t, 150, HumanPrice(0.15, 9, 6), 1e-9)
	assert.InDelta(t, 0.001, DecimalsFactor(6, 9), 1e-15)
}

func TestSpotBalanced(t *testing.T) {
	allocs := SpotBalanced(100, 10, 1_000_003, 2_000_005)
	require.Len(t, allocs, 21)
	assert.Equal(t, int32(90), allocs[0].BinID)
	assert.Equal(t, int32(110), allocs[20].BinID)

	var sumX, sumY uint64
	for _, a := range allocs {
		sumX += a.XAmount
		sumY += a.YAmount
		if a.BinID < 100 {
			assert.Zero(t, a.XAmount, "no X below active bin %d", a.BinID)
		}
		if a.BinID > 100 {
			assert.Zero(t, a.YAmount, "no Y above active bin %d", a.BinID)
		}
	}
	assert.Equal(t, uint64(1_000_003), sumX)
	assert.Equal(t, uint64(2_000_005), sumY)

	active := allocs[10]
	assert.Equal(t, int32(100), active.BinID)
	assert.NotZero(t, active.XAmount)
	assert.NotZero(t, active.YAmount)
}

func TestSpotBalanced_ZeroWidth(t *testing.T) {
	allocs := SpotBalanced(5, 0, 10, 20)
	require.Len(t, allocs, 1)
	assert.Equal(t, domain.BinAllocation{BinID: 5, XAmount: 10, YAmount: 20}, allocs[0])
}

// unsignedTx builds a legacy transaction that needs the given signers.
func unsignedTx(signers ...[]byte) string {
	tx := []byte{byte(len(signers))}
	tx = append(tx, make([]byte, 64*len(signers))...)
	tx = append(tx, byte(len(signers)), 0, 0, byte(len(signers)))
	for _, s := range signers {
		tx = append(tx, s...)
	}
	tx = append(tx, make([]byte, 32)...)
	tx = append(tx, 0)
	return base64.StdEncoding.EncodeToString(tx)
}

type testEnv struct {
	client  *Client
	rpc     *solstub.RPCClient
	wallet  *solana.Keypair
	builder *httptest.Server
	paths   []string
	bodies  []map[string]interface{}
}

func newTestEnv(t *testing.T, handler func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{})) *testEnv {
	t.Helper()
	wallet, err := solana.NewKeypair()
	require.NoError(t, err)

	env := &testEnv{rpc: solstub.NewRPCClient(), wallet: wallet}
	env.builder = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		env.paths = append(env.paths, r.URL.Path)
		env.bodies = append(env.bodies, body)
		handler(env, w, r.URL.Path, body)
	}))
	t.Cleanup(env.builder.Close)

	chain := solana.NewChain(env.rpc, nil, wallet, log.New(io.Discard, "", 0))
	chain.PollInterval = 5 * time.Millisecond
	chain.ConfirmTimeout = time.Second

	env.client = NewClient(chain, NewBuilder(env.builder.URL, nil), log.New(io.Discard, "", 0))
	return env
}

func TestClient_GetPoolSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.now = func() time.Time { return time.UnixMilli(1700000000000) }

	env.rpc.SetAccount("POOL", &solana.AccountInfo{
		Owner: ProgramID,
		Data:  base64.StdEncoding.EncodeToString(lbPairData(10, 100, key(1), key(2))),
	})
	env.rpc.SetAccount(base58.Encode(key(1)), &solana.AccountInfo{Data: base64.StdEncoding.EncodeToString(mintData(9))})
	env.rpc.SetAccount(base58.Encode(key(2)), &solana.AccountInfo{Data: base64.StdEncoding.EncodeToString(mintData(6))})

	snap, err := env.client.GetPoolSnapshot(context.Background(), "POOL")
	require.NoError(t, err)
	assert.Equal(t, int32(10), snap.ActiveBinID)
	assert.Equal(t, uint16(100), snap.BinStep)
	assert.InDelta(t, PricePerLamport(10, 100), snap.PricePerLamport, 1e-12)
	assert.Equal(t, uint8(9), snap.DecimalsX)
	assert.Equal(t, uint8(6), snap.DecimalsY)
	assert.Equal(t, int64(1700000000000), snap.FetchedAt)

	bin, err := env.client.GetActiveBin(context.Background(), "POOL")
	require.NoError(t, err)
	assert.Equal(t, int32(10), bin.BinID)
}

func TestClient_GetPoolSnapshot_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.client.GetPoolSnapshot(context.Background(), "MISSING")
	assert.ErrorIs(t, err, domain.ErrInvalidPositionData)

	env.rpc.SetAccount("NOTDLMM", &solana.AccountInfo{Owner: "11111111111111111111111111111111"})
	_, err = env.client.GetPoolSnapshot(context.Background(), "NOTDLMM")
	assert.ErrorIs(t, err, domain.ErrInvalidPositionData)
}

func TestClient_InitializePosition(t *testing.T) {
	var position *solana.Keypair
	env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
		json.NewEncoder(w).Encode(map[string]string{
			"transaction": unsignedTx(env.wallet.PublicKeyBytes(), position.PublicKeyBytes()),
		})
	})
	var err error
	position, err = solana.NewKeypair()
	require.NoError(t, err)

	res, err := env.client.InitializePosition(context.Background(), InitializePositionRequest{
		Pool: "POOL", Position: position, TotalX: 100, TotalY: 250, MinBinID: -10, MaxBinID: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Signatures, 1)
	assert.Equal(t, 1, env.rpc.SentCount())

	require.Equal(t, []string{"/v1/positions/initialize"}, env.paths)
	body := env.bodies[0]
	assert.Equal(t, env.wallet.PublicKey(), body["user"])
	assert.Equal(t, position.PublicKey(), body["position"])
	assert.Equal(t, "100", body["totalXAmount"])
	assert.Equal(t, "250", body["totalYAmount"])
	assert.Equal(t, StrategySpotBalanced, body["strategy"])
}

func TestClient_RemoveLiquidity_MultipleTransactions(t *testing.T) {
	env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
		tx := unsignedTx(env.wallet.PublicKeyBytes())
		json.NewEncoder(w).Encode(map[string][]string{"transactions": {tx, tx}})
	})

	res, err := env.client.RemoveLiquidity(context.Background(), RemoveLiquidityRequest{
		Pool: "POOL", Position: "POS", BinIDs: []int32{1, 2, 3}, Bps: FullWithdrawBps, ClaimAndClose: true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Signatures, 2)

	body := env.bodies[0]
	assert.Equal(t, float64(10000), body["bps"])
	assert.Equal(t, true, body["shouldClaimAndClose"])
	assert.Len(t, body["binIds"], 3)
}

func TestClient_RemoveLiquidity_ErrorKinds(t *testing.T) {
	t.Run("rejected on chain", func(t *testing.T) {
		env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
			json.NewEncoder(w).Encode(map[string]string{"transaction": unsignedTx(env.wallet.PublicKeyBytes())})
		})
		env.rpc.FailTx = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

		_, err := env.client.RemoveLiquidity(context.Background(), RemoveLiquidityRequest{Pool: "P", Position: "X", BinIDs: []int32{1}, Bps: FullWithdrawBps})
		assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	})

	t.Run("node unreachable", func(t *testing.T) {
		env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
			json.NewEncoder(w).Encode(map[string]string{"transaction": unsignedTx(env.wallet.PublicKeyBytes())})
		})
		env.rpc.SendErr = errors.New("connection refused")

		_, err := env.client.RemoveLiquidity(context.Background(), RemoveLiquidityRequest{Pool: "P", Position: "X", BinIDs: []int32{1}, Bps: FullWithdrawBps})
		assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	})

	t.Run("never confirmed", func(t *testing.T) {
		env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
			json.NewEncoder(w).Encode(map[string]string{"transaction": unsignedTx(env.wallet.PublicKeyBytes())})
		})
		env.rpc.Unconfirmed = true
		env.client.chain.ConfirmTimeout = 30 * time.Millisecond

		_, err := env.client.RemoveLiquidity(context.Background(), RemoveLiquidityRequest{Pool: "P", Position: "X", BinIDs: []int32{1}, Bps: FullWithdrawBps})
		assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	})

	t.Run("caller deadline", func(t *testing.T) {
		env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
			json.NewEncoder(w).Encode(map[string]string{"transaction": unsignedTx(env.wallet.PublicKeyBytes())})
		})
		env.rpc.Unconfirmed = true

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := env.client.RemoveLiquidity(ctx, RemoveLiquidityRequest{Pool: "P", Position: "X", BinIDs: []int32{1}, Bps: FullWithdrawBps})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, domain.ErrSubmissionFailed)
		assert.NotErrorIs(t, err, domain.ErrUpstreamUnavailable)
	})

	t.Run("builder down", func(t *testing.T) {
		env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := env.client.RemoveLiquidity(context.Background(), RemoveLiquidityRequest{Pool: "P", Position: "X", BinIDs: []int32{1}, Bps: FullWithdrawBps})
		assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	})

	t.Run("builder refuses", func(t *testing.T) {
		env := newTestEnv(t, func(env *testEnv, w http.ResponseWriter, path string, body map[string]interface{}) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "position not found"})
		})
		_, err := env.client.RemoveLiquidity(context.Background(), RemoveLiquidityRequest{Pool: "P", Position: "X", BinIDs: []int32{1}, Bps: FullWithdrawBps})
		assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	})

	t.Run("no bins", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.client.RemoveLiquidity(context.Background(), RemoveLiquidityRequest{Pool: "P", Position: "X"})
		assert.ErrorIs(t, err, domain.ErrInvalidPositionData)
		assert.Empty(t, env.paths)
	})
}
