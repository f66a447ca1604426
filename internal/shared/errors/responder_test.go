package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errGone = stderrors.New("gone")

func TestChainedResponder_UsesFirstMatchingMapper(t *testing.T) {
	gin.SetMode(gin.TestMode)
	responder := NewChainedResponder("https://problems.example",
		func(err error) (ProblemDetail, bool) {
			if stderrors.Is(err, errGone) {
				return ErrNotFound.WithDetail(err.Error()), true
			}
			return ProblemDetail{}, false
		},
	)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/orders/7", nil)
	responder.RespondError(c, errGone)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "https://problems.example"+TypeNotFound, problem.Type)
	assert.Equal(t, "/v1/orders/7", problem.Instance)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	responder.RespondError(c, stderrors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReadProblem_DecodesExtensions(t *testing.T) {
	body := `{"type":"/problems/conflict","title":"Conflict","status":409,"detail":"version moved","extensions":{"current":{"id":3,"version":5}}}`
	problem := ReadProblem(strings.NewReader(body), http.StatusConflict, "409 Conflict")
	assert.Equal(t, "version moved", problem.Message())

	var current struct {
		ID      int64 `json:"id"`
		Version int64 `json:"version"`
	}
	found, err := problem.Extension("current", &current)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(5), current.Version)

	found, err = problem.Extension("missing", &current)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadProblem_FallsBackForPlainBodies(t *testing.T) {
	problem := ReadProblem(strings.NewReader("upstream exploded"), http.StatusBadGateway, "502 Bad Gateway")
	assert.Equal(t, http.StatusBadGateway, problem.Status)
	assert.Equal(t, "502 Bad Gateway", problem.Message())
}
