package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/restoreassist/trial-engine/pkg/common"
)

// ============================================
// MOCK SERVICE
// ============================================

type MockRegistryService struct {
	mock.Mock
}

func (m *MockRegistryService) Block(ctx context.Context, fingerprintHash, reason string) error {
	args := m.Called(ctx, fingerprintHash, reason)
	return args.Error(0)
}

func (m *MockRegistryService) List(ctx context.Context, limit, offset int) ([]*DeviceFingerprint, int64, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*DeviceFingerprint), args.Get(1).(int64), args.Error(2)
}

// ============================================
// TEST HELPERS
// ============================================

func setupTestContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader([]byte{})
	}

	c.Request = httptest.NewRequest(method, path, reqBody)
	c.Request.Header.Set("Content-Type", "application/json")

	return c, w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

// ============================================
// BLOCK DEVICE TESTS
// ============================================

func TestHandler_BlockDevice_Success(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	service.On("Block", mock.Anything, "fp_abuse_origin", "chargeback ring").Return(nil)

	c, w := setupTestContext(http.MethodPost, "/api/v1/devices/fp_abuse_origin/block", BlockDeviceRequest{
		Reason: "chargeback ring",
	})
	c.Params = gin.Params{{Key: "fingerprint", Value: "fp_abuse_origin"}}

	handler.BlockDevice(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	assert.True(t, resp["success"].(bool))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "fp_abuse_origin", data["fingerprint_hash"])
	assert.True(t, data["blocked"].(bool))
	service.AssertExpectations(t)
}

func TestHandler_BlockDevice_InvalidFingerprint(t *testing.T) {
	tests := []struct {
		name        string
		fingerprint string
	}{
		{"too short", "ab12"},
		{"illegal characters", "fp/../../etc/passwd"},
		{"embedded space", "fp abuse origin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockRegistryService)
			handler := NewHandler(service)

			c, w := setupTestContext(http.MethodPost, "/api/v1/devices/x/block", BlockDeviceRequest{
				Reason: "fraud",
			})
			c.Params = gin.Params{{Key: "fingerprint", Value: tt.fingerprint}}

			handler.BlockDevice(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			service.AssertNotCalled(t, "Block", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandler_BlockDevice_MissingReason(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	c, w := setupTestContext(http.MethodPost, "/api/v1/devices/fp_abuse_origin/block", map[string]interface{}{})
	c.Params = gin.Params{{Key: "fingerprint", Value: "fp_abuse_origin"}}

	handler.BlockDevice(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	service.AssertNotCalled(t, "Block", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_BlockDevice_ServiceAppError(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	service.On("Block", mock.Anything, "fp_db_down", "fraud").
		Return(common.NewInternalError("failed to block device", errors.New("connection refused")))

	c, w := setupTestContext(http.MethodPost, "/api/v1/devices/fp_db_down/block", BlockDeviceRequest{
		Reason: "fraud",
	})
	c.Params = gin.Params{{Key: "fingerprint", Value: "fp_db_down"}}

	handler.BlockDevice(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := parseResponse(t, w)
	assert.False(t, resp["success"].(bool))
}

func TestHandler_BlockDevice_PlainServiceError(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	service.On("Block", mock.Anything, "fp_plain_err", "fraud").Return(errors.New("boom"))

	c, w := setupTestContext(http.MethodPost, "/api/v1/devices/fp_plain_err/block", BlockDeviceRequest{
		Reason: "fraud",
	})
	c.Params = gin.Params{{Key: "fingerprint", Value: "fp_plain_err"}}

	handler.BlockDevice(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ============================================
// LIST DEVICES TESTS
// ============================================

func TestHandler_ListDevices_Success(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	devices := []*DeviceFingerprint{
		{FingerprintHash: "fp_list_first", TrialCount: 1},
		{FingerprintHash: "fp_list_second", TrialCount: 0, IsBlocked: true},
	}
	service.On("List", mock.Anything, 20, 0).Return(devices, int64(2), nil)

	c, w := setupTestContext(http.MethodGet, "/api/v1/devices", nil)

	handler.ListDevices(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	assert.True(t, resp["success"].(bool))

	data := resp["data"].([]interface{})
	require.Len(t, data, 2)
	first := data[0].(map[string]interface{})
	assert.Equal(t, "fp_list_first", first["fingerprint_hash"])

	meta := resp["meta"].(map[string]interface{})
	assert.Equal(t, float64(20), meta["limit"])
	assert.Equal(t, float64(2), meta["total"])
}

func TestHandler_ListDevices_ForwardsPagination(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	service.On("List", mock.Anything, 5, 10).Return([]*DeviceFingerprint{}, int64(30), nil)

	c, w := setupTestContext(http.MethodGet, "/api/v1/devices?limit=5&offset=10", nil)

	handler.ListDevices(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	meta := resp["meta"].(map[string]interface{})
	assert.Equal(t, float64(5), meta["limit"])
	assert.Equal(t, float64(10), meta["offset"])
	assert.Equal(t, float64(6), meta["total_pages"])
	service.AssertExpectations(t)
}

func TestHandler_ListDevices_EmptyRegistry(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	service.On("List", mock.Anything, 20, 0).Return(nil, int64(0), nil)

	c, w := setupTestContext(http.MethodGet, "/api/v1/devices", nil)

	handler.ListDevices(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	data, ok := resp["data"].([]interface{})
	require.True(t, ok, "data must be an array, not null")
	assert.Empty(t, data)
}

func TestHandler_ListDevices_ServiceError(t *testing.T) {
	service := new(MockRegistryService)
	handler := NewHandler(service)

	service.On("List", mock.Anything, 20, 0).
		Return(nil, int64(0), common.NewInternalError("failed to list devices", errors.New("query timeout")))

	c, w := setupTestContext(http.MethodGet, "/api/v1/devices", nil)

	handler.ListDevices(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := parseResponse(t, w)
	assert.False(t, resp["success"].(bool))
}
