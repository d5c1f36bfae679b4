package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the request-validation branch of each handler,
// which returns before touching the store/registry/gateway — so a
// zero-value Server is enough; no database is needed.

func newTestContext(method, path, body string) (*echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreateTicketHandler_RejectsMissingFields(t *testing.T) {
	s := &Server{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/tickets", `{"description":"no title or phase"}`)

	err := s.createTicketHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestCreateTaskHandler_RejectsMissingFields(t *testing.T) {
	s := &Server{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/tasks", `{"title":"no ticket/phase/type"}`)

	err := s.createTaskHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestPatchTaskHandler_RejectsUnrecognizedOperation(t *testing.T) {
	s := &Server{}
	c, _ := newTestContext(http.MethodPatch, "/api/v1/tasks/t1", `{}`)
	c.SetParamNames("id")
	c.SetParamValues("t1")

	err := s.patchTaskHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSpawnSandboxHandler_RejectsMissingTaskID(t *testing.T) {
	s := &Server{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/sandboxes/spawn", `{"runtime":"node"}`)

	err := s.spawnSandboxHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSendSandboxMessageHandler_RejectsEmptyContent(t *testing.T) {
	s := &Server{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/sandboxes/sb1/messages", `{"message_type":"operator"}`)
	c.SetParamNames("sandbox_id")
	c.SetParamValues("sb1")

	err := s.sendSandboxMessageHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSplitCoordinationHandler_RejectsMissingFields(t *testing.T) {
	s := &Server{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/coordination/split", `{}`)

	err := s.splitCoordinationHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestJoinCoordinationHandler_RejectsMissingFields(t *testing.T) {
	s := &Server{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/coordination/join", `{}`)

	err := s.joinCoordinationHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}
