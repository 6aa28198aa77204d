//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/restoreassist/trial-engine/internal/devices"
	"github.com/restoreassist/trial-engine/internal/fraud"
	"github.com/restoreassist/trial-engine/pkg/eventbus"
	"github.com/restoreassist/trial-engine/test/helpers"
)

// DeviceFlowTestSuite covers the admin device registry surface and the
// block signal's effect on later activations.
type DeviceFlowTestSuite struct {
	suite.Suite
	engine *engineHarness
	admin  string
}

func TestDeviceFlowSuite(t *testing.T) {
	suite.Run(t, new(DeviceFlowTestSuite))
}

func (s *DeviceFlowTestSuite) SetupTest() {
	s.engine = startEngine(s.T())
	s.admin = signToken(s.T(), "admin")
}

func (s *DeviceFlowTestSuite) blockDevice(fingerprintHash, reason string) {
	t := s.T()
	resp := doRequest[devices.BlockDeviceResponse](t, s.engine, http.MethodPost,
		"/api/v1/devices/"+fingerprintHash+"/block",
		devices.BlockDeviceRequest{Reason: reason}, authHeaders(s.admin))
	require.True(t, resp.Success)
	require.True(t, resp.Data.Blocked)
	require.Equal(t, fingerprintHash, resp.Data.FingerprintHash)
}

func (s *DeviceFlowTestSuite) TestRegistryIsAdminOnly() {
	t := s.T()

	anonymous := doRawRequest(t, s.engine, http.MethodGet, "/api/v1/devices", nil, nil)
	defer anonymous.Body.Close()
	require.Equal(t, http.StatusUnauthorized, anonymous.StatusCode)

	member := doRawRequest(t, s.engine, http.MethodGet, "/api/v1/devices", nil,
		authHeaders(signToken(t, "member")))
	defer member.Body.Close()
	require.Equal(t, http.StatusForbidden, member.StatusCode)
}

func (s *DeviceFlowTestSuite) TestBlockedDeviceIsDeniedOutright() {
	t := s.T()

	// Preemptive block: the fingerprint has never been seen.
	fingerprint := helpers.RandomFingerprint()
	s.blockDevice(fingerprint, "trial farming ring")
	require.Equal(t, 1, s.engine.bus.Published(eventbus.SubjectDeviceBlocked))

	req := helpers.CreateActivationRequest(uuid.Nil)
	req.FingerprintHash = fingerprint
	resp := seedAndActivate(t, s.engine, req)

	helpers.AssertDenied(t, &resp.Data, fraud.FlagDeviceBlocked)
	require.Equal(t, "Fraud detected: device blocked", resp.Data.DenialReason)
	require.Contains(t, resp.Data.FraudFlags[0].Detail, "trial farming ring")
}

func (s *DeviceFlowTestSuite) TestBlockAfterGrantStopsTheNextAccount() {
	t := s.T()

	req := helpers.CreateActivationRequest(uuid.Nil)
	helpers.AssertGranted(t, &seedAndActivate(t, s.engine, req).Data)

	s.blockDevice(req.FingerprintHash, "chargeback cluster")

	next := helpers.CreateActivationRequest(uuid.Nil)
	next.FingerprintHash = req.FingerprintHash
	resp := seedAndActivate(t, s.engine, next)
	helpers.AssertDenied(t, &resp.Data, fraud.FlagDeviceBlocked)
}

func (s *DeviceFlowTestSuite) TestBlockIsIdempotent() {
	t := s.T()

	fingerprint := helpers.RandomFingerprint()
	s.blockDevice(fingerprint, "first finding")
	s.blockDevice(fingerprint, "second finding")

	listed := doRequest[[]*devices.DeviceFingerprint](t, s.engine, http.MethodGet,
		"/api/v1/devices", nil, authHeaders(s.admin))
	require.Len(t, listed.Data, 1)
	require.True(t, listed.Data[0].IsBlocked)
}

func (s *DeviceFlowTestSuite) TestBlockRejectsMalformedFingerprint() {
	t := s.T()

	resp := doRawRequest(t, s.engine, http.MethodPost, "/api/v1/devices/bad!hash/block",
		devices.BlockDeviceRequest{Reason: "whatever"}, authHeaders(s.admin))
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (s *DeviceFlowTestSuite) TestListOrdersByLastSeen() {
	t := s.T()

	first := helpers.CreateActivationRequest(uuid.Nil)
	helpers.AssertGranted(t, &seedAndActivate(t, s.engine, first).Data)

	second := helpers.CreateActivationRequest(uuid.Nil)
	helpers.AssertGranted(t, &seedAndActivate(t, s.engine, second).Data)

	listed := doRequest[[]*devices.DeviceFingerprint](t, s.engine, http.MethodGet,
		"/api/v1/devices", nil, authHeaders(s.admin))
	require.True(t, listed.Success)
	require.Len(t, listed.Data, 2)
	require.Equal(t, second.FingerprintHash, listed.Data[0].FingerprintHash,
		"most recently seen device lists first")
	require.Equal(t, int64(2), listed.Meta.Total)
}
