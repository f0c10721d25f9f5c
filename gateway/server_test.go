package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"greenledger/core/types"
	"greenledger/crypto"
	"greenledger/native/bridge"
	"greenledger/native/collateral"
	"greenledger/native/oracle"
	"greenledger/native/stable"
	"greenledger/native/system"
	"greenledger/state"
	"greenledger/storage"
)

var testSecret = []byte("gateway-test-secret")

type gatewayFixture struct {
	server   *Server
	manager  *state.Manager
	registry *collateral.Registry
	source   *oracle.StaticSource
	roles    *system.Roles
	now      time.Time
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{
		manager: state.NewManager(storage.NewMemDB()),
		source:  oracle.NewStaticSource(),
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.registry = collateral.NewRegistry(f.manager)
	pauses := system.NewPauses(f.manager)
	f.roles = system.NewRoles(f.manager)

	custody := gwAddr(0xcc)
	stableEngine := stable.NewEngine(custody, stable.Params{
		StabilityFeeBps:       500,
		LiquidationPenaltyBps: 1_000,
		MaxQuoteAge:           5 * time.Minute,
	})
	stableEngine.SetState(f.manager)
	stableEngine.SetRegistry(f.registry)
	stableEngine.SetOracle(f.source)
	stableEngine.SetPauses(pauses)
	stableEngine.SetClock(func() time.Time { return f.now })

	bridgeEngine := bridge.NewEngine(f.manager, gwAddr(0xdd), bridge.Params{
		MinAmount:       big.NewInt(1),
		SettlementDelay: time.Minute,
	})
	bridgeEngine.SetAccounts(f.manager)
	bridgeEngine.SetPauses(pauses)
	bridgeEngine.SetClock(func() time.Time { return f.now })

	f.server = NewServer(Options{
		StableEngine: stableEngine,
		BridgeEngine: bridgeEngine,
		Registry:     f.registry,
		Feed:         oracle.NewSignedFeed(5*time.Minute, 2_000),
		Roles:        f.roles,
		Pauses:       pauses,
		JWTSecret:    testSecret,
		RateLimitRPS: 1_000,
		RateBurst:    1_000,
	})

	require.NoError(t, f.registry.Register("test", &collateral.Asset{
		ID:                      "carbon-1",
		Type:                    collateral.AssetTypeCarbonCredits,
		CollateralRatioBps:      15_000,
		LiquidationThresholdBps: 12_000,
	}))
	f.source.SetPrice("carbon-1", big.NewRat(2, 1), f.now)
	return f
}

func gwAddr(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func tokenFor(t *testing.T, addr crypto.Address) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   addr.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func (f *gatewayFixture) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *gatewayFixture) fund(t *testing.T, addr crypto.Address, collateralAmt int64) {
	t.Helper()
	acc := types.NewAccount()
	acc.SetCollateralBalance("carbon-1", big.NewInt(collateralAmt))
	require.NoError(t, f.manager.PutAccount(addr, acc))
}

func TestHealthz(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMutationsRequireToken(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/stable/deposit", "", amountRequest{AssetID: "carbon-1", Amount: "100"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodPost, "/v1/stable/deposit", "not-a-token", amountRequest{AssetID: "carbon-1", Amount: "100"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDepositMintFlow(t *testing.T) {
	f := newGatewayFixture(t)
	owner := gwAddr(0x01)
	f.fund(t, owner, 1_000)
	token := tokenFor(t, owner)

	rec := f.request(t, http.MethodPost, "/v1/stable/deposit", token, amountRequest{AssetID: "carbon-1", Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodPost, "/v1/stable/mint", token, amountRequest{AssetID: "carbon-1", Amount: "1333"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodPost, "/v1/stable/mint", token, amountRequest{AssetID: "carbon-1", Amount: "1"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodGet, fmt.Sprintf("/v1/positions/carbon-1/%s", owner), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var position positionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &position))
	require.Equal(t, "1333", position.Debt)
	require.Equal(t, "1000", position.Collateral)
	require.True(t, position.Active)
}

func TestMintRejectsMalformedAmount(t *testing.T) {
	f := newGatewayFixture(t)
	token := tokenFor(t, gwAddr(0x02))
	rec := f.request(t, http.MethodPost, "/v1/stable/mint", token, amountRequest{AssetID: "carbon-1", Amount: "-5"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.request(t, http.MethodPost, "/v1/stable/mint", token, amountRequest{AssetID: "carbon-1", Amount: "ten"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresRole(t *testing.T) {
	f := newGatewayFixture(t)
	user := gwAddr(0x03)
	token := tokenFor(t, user)

	body := registerAssetRequest{
		ID:                      "water-1",
		Type:                    "WaterCredits",
		CollateralRatioBps:      14_000,
		LiquidationThresholdBps: 11_000,
	}
	rec := f.request(t, http.MethodPost, "/v1/admin/assets", token, body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.roles.Grant(system.RoleAdmin, user))
	rec = f.request(t, http.MethodPost, "/v1/admin/assets", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodGet, "/v1/assets/water-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardianPauseBlocksStable(t *testing.T) {
	f := newGatewayFixture(t)
	guardian := gwAddr(0x04)
	owner := gwAddr(0x05)
	f.fund(t, owner, 1_000)
	require.NoError(t, f.roles.Grant(system.RoleGuardian, guardian))

	rec := f.request(t, http.MethodPost, "/v1/admin/pause", tokenFor(t, guardian), pauseRequest{Module: "stable", Paused: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodPost, "/v1/stable/deposit", tokenFor(t, owner), amountRequest{AssetID: "carbon-1", Amount: "100"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.request(t, http.MethodPost, "/v1/admin/pause", tokenFor(t, guardian), pauseRequest{Module: "stable", Paused: false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.request(t, http.MethodPost, "/v1/stable/deposit", tokenFor(t, owner), amountRequest{AssetID: "carbon-1", Amount: "100"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBridgeInitiateAndFetch(t *testing.T) {
	f := newGatewayFixture(t)
	sender := gwAddr(0x06)
	acc := types.NewAccount()
	acc.BalanceStable = big.NewInt(5_000)
	require.NoError(t, f.manager.PutAccount(sender, acc))
	require.NoError(t, f.manager.SetStableSupply(big.NewInt(5_000)))

	rec := f.request(t, http.MethodPost, "/v1/bridge/initiate", tokenFor(t, sender), initiateRequest{
		SourceToken: bridge.StableToken,
		TargetToken: "wGLD",
		TargetChain: "polygon",
		Recipient:   "0xabc",
		Amount:      "1500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tx bridgeTxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	require.Equal(t, "pending", tx.Status)
	require.Equal(t, "1500", tx.Amount)

	rec = f.request(t, http.MethodGet, "/v1/bridge/txs/"+tx.TxID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/v1/bridge/txs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Transactions []bridgeTxResponse `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Transactions, 1)
}

func TestRateLimitReturns429(t *testing.T) {
	f := newGatewayFixture(t)
	f.server.limiter = newClientLimiter(1, 1)

	first := f.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, first.Code)
	second := f.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}
