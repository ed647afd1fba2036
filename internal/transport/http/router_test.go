package httptransport

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"olocus/internal/anchor"
	"olocus/internal/attestation"
	"olocus/internal/credential"
	"olocus/internal/crypto"
	"olocus/internal/device"
	"olocus/internal/friendship"
	jwttoken "olocus/internal/jwt_token"
	"olocus/internal/ledger"
	"olocus/internal/nullifier"
	"olocus/internal/platform/metrics"
	"olocus/internal/trust"
	"olocus/internal/visit"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

type fakeTSA struct{ assertedAt time.Time }

func (f *fakeTSA) Name() string { return "fake-tsa" }

func (f *fakeTSA) Timestamp(_ context.Context, _ crypto.Hash) (*anchor.TimestampToken, error) {
	return &anchor.TimestampToken{
		Authority:  "fake-tsa",
		Token:      []byte("token"),
		AssertedAt: f.assertedAt,
	}, nil
}

type TransportSuite struct {
	suite.Suite

	router http.Handler
	token  string
	visits visit.Store
	keys   *crypto.MemoryKeyStore
}

// base is mid-afternoon on the anchored day; now is early the next morning,
// when the anchor for that day gets created.
var (
	transportBase = time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	transportNow  = time.Date(2026, 8, 21, 1, 0, 0, 0, time.UTC)
)

func (s *TransportSuite) SetupSuite() {
	did := domain.DID("did:olocus:alice")
	keys := crypto.NewMemoryKeyStore()
	_, err := keys.GenerateSigningKey(context.Background(), "device-key")
	s.Require().NoError(err)

	chain := ledger.NewChain(did, "device-key", transportBase.Add(-time.Hour))
	blocks := ledger.NewInMemoryBlockStore()
	lgr, err := ledger.New(chain, blocks, keys)
	s.Require().NoError(err)

	visits := visit.NewInMemoryStore()
	anchorStore := anchor.NewInMemoryStore()
	anchors := anchor.NewService(anchor.DefaultConfig(), anchorStore, visits, blocks, keys,
		&fakeTSA{assertedAt: transportNow},
		anchor.WithClock(func() time.Time { return transportNow }))

	issuer := credential.NewIssuer(anchorStore, keys,
		credential.WithClock(func() time.Time { return transportNow }))
	friendStore := friendship.NewInMemoryStore()
	friends := friendship.NewEstablisher(did, "device-key", keys, friendStore)
	engine := attestation.NewEngine(did, chain.ID, "device-key", keys, visits,
		friendStore,
		attestation.WithClock(func() time.Time { return transportNow }))

	jwtService := jwttoken.NewService("test-signing-key", "olocus", "olocus-api")
	token, err := jwtService.GenerateAccessToken(did, chain.ID, time.Hour)
	s.Require().NoError(err)

	handler := NewHandler(Deps{
		Ledger:      lgr,
		Blocks:      blocks,
		Aggregator:  visit.NewAggregator(visit.DefaultConfig()),
		Visits:      visits,
		Anchors:     anchors,
		AnchorStore: anchorStore,
		Issuer:      issuer,
		Engine:      engine,
		Friends:     friends,
		FriendStore: friendStore,
		Scorer:      trust.NewScorer(trust.DefaultPolicy()),
		Registry:    nullifier.NewInMemoryRegistry(),
		Device:      device.NewService(true),
		Metrics:     metrics.New(),
	})

	s.router = NewRouter(handler, jwtService)
	s.token = token
	s.visits = visits
	s.keys = keys
}

func (s *TransportSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *TransportSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v))
}

func (s *TransportSuite) TestHealthRequiresNoAuth() {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *TransportSuite) TestMissingTokenRejected() {
	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/chain", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *TransportSuite) TestInvalidSampleBodyRejected() {
	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/samples", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *TransportSuite) TestAnchorByDayNotFound() {
	rec := s.do(http.MethodGet, "/v1/anchors/1999-01-01", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

// TestClaimLifecycle walks the full path: samples in, visit out, anchored,
// credentialed, published once, rejected on the second publication.
func (s *TransportSuite) TestClaimLifecycle() {
	// Roughly 1e-5 degrees of latitude is ~1.1 meters.
	const degPerMeterLat = 1.0 / 111320.0

	offsets := []struct {
		minutes int
		dLat    float64
	}{
		{0, 0},
		{12, 30 * degPerMeterLat},
		{25, -10 * degPerMeterLat},
	}
	for _, o := range offsets {
		rec := s.do(http.MethodPost, "/v1/ledger/samples", appendSampleRequest{
			Timestamp: transportBase.Add(time.Duration(o.minutes) * time.Minute),
			Coordinates: ledger.GeoCoordinates{
				Longitude: 13.4050,
				Latitude:  52.5200 + o.dLat,
			},
			Accuracy: ledger.GeoAccuracy{Horizontal: 5},
			Motion:   ledger.MotionStationary,
		})
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

		var block ledger.LocationBlock
		s.decode(rec, &block)
		s.NotEmpty(block.Device.Fingerprint, "fingerprint derived from User-Agent")
	}

	rec := s.do(http.MethodGet, "/v1/ledger/blocks?from=0&to=2", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var blockPage struct {
		Blocks []ledger.LocationBlock `json:"blocks"`
	}
	s.decode(rec, &blockPage)
	s.Len(blockPage.Blocks, 3)

	rec = s.do(http.MethodPost, "/v1/visits/detect", detectVisitsRequest{
		From: transportBase.Add(-time.Hour),
		To:   transportBase.Add(time.Hour),
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var visitPage struct {
		Visits []visit.Visit `json:"visits"`
	}
	s.decode(rec, &visitPage)
	s.Require().Len(visitPage.Visits, 1)
	visitID := visitPage.Visits[0].ID

	rec = s.do(http.MethodPost, "/v1/anchors", createAnchorRequest{Day: "2026-08-20"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var anchored anchor.DailyAnchor
	s.decode(rec, &anchored)
	s.Equal(anchor.StatusConfirmed, anchored.Status)

	rec = s.do(http.MethodGet, "/v1/anchors/2026-08-20", nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/v1/credentials", issueCredentialRequest{
		VisitID: visitID.String(),
		Mode:    credential.ModeCommitment,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	publish := publishClaimRequest{VisitID: visitID.String(), Salt: "marketplace-1"}
	rec = s.do(http.MethodPost, "/v1/claims", publish)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var published publishClaimResponse
	s.decode(rec, &published)
	s.NotEmpty(published.Nullifier)
	s.Equal(trust.StatusInsufficient, published.Score.Status)

	rec = s.do(http.MethodPost, "/v1/claims", publish)
	s.Require().Equal(http.StatusConflict, rec.Code)
	var envelope struct {
		Code int `json:"code"`
	}
	s.decode(rec, &envelope)
	s.Equal(4001, envelope.Code)

	// A different salt is an independent claim.
	rec = s.do(http.MethodPost, "/v1/claims", publishClaimRequest{
		VisitID: visitID.String(), Salt: "marketplace-2",
	})
	s.Equal(http.StatusCreated, rec.Code)
}

// TestFriendshipLifecycle drives the acceptor-side endpoints against a
// requester (bob) running the handshake in process.
func (s *TransportSuite) TestFriendshipLifecycle() {
	ctx := context.Background()

	bobKeys := crypto.NewMemoryKeyStore()
	bobPub, err := bobKeys.GenerateSigningKey(ctx, "device-key")
	s.Require().NoError(err)
	bob := friendship.NewEstablisher("did:olocus:bob", "device-key", bobKeys,
		friendship.NewInMemoryStore())

	handshake, err := bob.Initiate(ctx, friendship.LevelClose)
	s.Require().NoError(err)

	rec := s.do(http.MethodPost, "/v1/friendships/accept", acceptFriendshipRequest{
		Request:            *handshake,
		RequesterPublicKey: hex.EncodeToString(bobPub),
		ConfirmedCode:      handshake.VerificationCode,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var accepted acceptFriendshipResponse
	s.decode(rec, &accepted)
	s.Require().NotNil(accepted.Response)
	s.Require().NotNil(accepted.Credential)
	s.False(accepted.Credential.Commitment.IsZero())

	alicePub, err := s.keys.PublicKey(ctx, "device-key")
	s.Require().NoError(err)
	cred, err := bob.Complete(ctx, *accepted.Response, *accepted.Credential, alicePub)
	s.Require().NoError(err)
	s.Equal(accepted.Credential.Commitment, cred.Commitment)

	rec = s.do(http.MethodPost, "/v1/friendships/adopt", adoptFriendshipRequest{
		Credential:         *cred,
		RequesterPublicKey: hex.EncodeToString(bobPub),
	})
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/friendships", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var page struct {
		Friendships []friendship.Credential `json:"friendships"`
	}
	s.decode(rec, &page)
	s.Require().Len(page.Friendships, 1)
	s.True(page.Friendships[0].Involves("did:olocus:bob"))

	// A wrong verification code must stop the handshake.
	handshake2, err := bob.Initiate(ctx, friendship.LevelColleague)
	s.Require().NoError(err)
	rec = s.do(http.MethodPost, "/v1/friendships/accept", acceptFriendshipRequest{
		Request:            *handshake2,
		RequesterPublicKey: hex.EncodeToString(bobPub),
		ConfirmedCode:      "000-000",
	})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code   int
		status int
	}{
		{9400, http.StatusBadRequest},
		{9401, http.StatusUnauthorized},
		{9404, http.StatusNotFound},
		{4001, http.StatusConflict},
		{4002, http.StatusUnprocessableEntity},
		{4003, http.StatusGone},
		{5003, http.StatusTooManyRequests},
		{5004, http.StatusBadGateway},
		{9500, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("code_%d", tc.code), func(t *testing.T) {
			require.Equal(t, tc.status, httpStatus(dErrors.Code(tc.code)))
		})
	}
}
