package httputil

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// GraphQLRequest is a GraphQL POST body.
type GraphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLError is the first entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string
	Code    string
}

func (e *GraphQLError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graphql: %s (%s)", e.Message, e.Code)
	}
	return "graphql: " + e.Message
}

// GraphQL posts a query to path and returns the "data" object. A non-empty
// "errors" array is returned as *GraphQLError.
func (c *ServiceClient) GraphQL(ctx context.Context, path, query string, variables map[string]interface{}) (gjson.Result, error) {
	resp, err := c.Post(ctx, path, GraphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return gjson.Result{}, apperrors.Transport(c.service, err)
	}
	if resp.StatusCode >= 500 {
		return gjson.Result{}, apperrors.Transport(c.service,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%s: invalid JSON response (status %d)", c.service, resp.StatusCode)
	}

	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		first := errs.Array()[0]
		return gjson.Result{}, &GraphQLError{
			Message: first.Get("message").String(),
			Code:    first.Get("extensions.code").String(),
		}
	}
	if resp.StatusCode >= 400 {
		return gjson.Result{}, fmt.Errorf("%s: request failed with status %d", c.service, resp.StatusCode)
	}
	return parsed.Get("data"), nil
}
