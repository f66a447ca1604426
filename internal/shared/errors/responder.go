package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContentTypeProblemJSON is the media type for Problem Details responses.
const ContentTypeProblemJSON = "application/problem+json"

const maxProblemBytes = 1 << 20

// Responder writes Problem Details responses.
type Responder struct {
	// BaseURI is prepended to relative problem type URIs.
	BaseURI string
}

func NewResponder(baseURI string) *Responder {
	return &Responder{BaseURI: baseURI}
}

// DefaultResponder uses relative URIs for problem types.
var DefaultResponder = NewResponder("")

// Respond sends problem with the problem+json content type. Instance defaults to the
// request path.
func (r *Responder) Respond(c *gin.Context, problem ProblemDetail) {
	if r.BaseURI != "" && strings.HasPrefix(problem.Type, "/") {
		problem.Type = r.BaseURI + problem.Type
	}
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.JSON(problem.Status, problem)
}

// RespondError sends err as-is when it already is a ProblemDetail, otherwise as a 500.
func (r *Responder) RespondError(c *gin.Context, err error) {
	var problem ProblemDetail
	if errors.As(err, &problem) {
		r.Respond(c, problem)
		return
	}
	r.Respond(c, ErrInternal.WithDetail(err.Error()))
}

func Respond(c *gin.Context, problem ProblemDetail) {
	DefaultResponder.Respond(c, problem)
}

// ErrorMapper translates a domain error into a problem. It reports false for errors
// it does not recognise.
type ErrorMapper func(err error) (ProblemDetail, bool)

// ChainedResponder consults its mappers in order before the default handling.
type ChainedResponder struct {
	*Responder
	mappers []ErrorMapper
}

func NewChainedResponder(baseURI string, mappers ...ErrorMapper) *ChainedResponder {
	return &ChainedResponder{
		Responder: NewResponder(baseURI),
		mappers:   mappers,
	}
}

func (r *ChainedResponder) RespondError(c *gin.Context, err error) {
	for _, mapper := range r.mappers {
		if problem, ok := mapper(err); ok {
			r.Respond(c, problem)
			return
		}
	}
	r.Responder.RespondError(c, err)
}

// ReadProblem decodes a problem document from a response body. Bodies that are not
// problem documents still yield a problem carrying status, with fallback as the title.
func ReadProblem(body io.Reader, status int, fallback string) ProblemDetail {
	problem := ProblemDetail{Status: status}
	raw, err := io.ReadAll(io.LimitReader(body, maxProblemBytes))
	if err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &problem)
	}
	problem.Status = status
	if strings.TrimSpace(problem.Title) == "" {
		problem.Title = fallback
	}
	return problem
}

// Message returns the most specific human-readable text of the problem.
func (p ProblemDetail) Message() string {
	if detail := strings.TrimSpace(p.Detail); detail != "" {
		return detail
	}
	return strings.TrimSpace(p.Title)
}

// Extension decodes the extension under key into target. It reports false when the
// extension is absent.
func (p ProblemDetail) Extension(key string, target any) (bool, error) {
	value, ok := p.Extensions[key]
	if !ok || value == nil {
		return false, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode extension %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("decode extension %s: %w", key, err)
	}
	return true, nil
}
