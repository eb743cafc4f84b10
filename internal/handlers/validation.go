package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

const todoPropertiesSchema = `{
	"title":       {"type": "string", "minLength": 1},
	"description": {"type": "string"},
	"completed":   {"type": "boolean"}
}`

var (
	createTodoSchema = jsonschema.MustCompileString("create-todo.json",
		`{"type": "object", "required": ["title"], "properties": `+todoPropertiesSchema+`}`)
	updateTodoSchema = jsonschema.MustCompileString("update-todo.json",
		`{"type": "object", "properties": `+todoPropertiesSchema+`}`)
)

// todoInput is the decoded body of POST and PUT. Absent fields stay nil.
type todoInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// requestError is a client error with its HTTP status.
type requestError struct {
	status  int
	message string
	err     error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func badRequest(message string, err error) *requestError {
	return &requestError{status: http.StatusBadRequest, message: message, err: err}
}

// decodeTodoBody reads the JSON body and checks it against schema. An empty
// body counts as an empty object.
func decodeTodoBody(r *http.Request, schema *jsonschema.Schema, create bool) (todoInput, *requestError) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return todoInput{}, &requestError{
				status:  http.StatusRequestEntityTooLarge,
				message: "Request body too large",
				err:     fmt.Errorf("limit is %d bytes", tooLarge.Limit),
			}
		}
		return todoInput{}, badRequest("Could not read request body", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return todoInput{}, badRequest("Malformed JSON in request body", err)
	}

	if obj, ok := doc.(map[string]any); ok {
		title, present := obj["title"]
		switch {
		case create && (!present || title == nil || title == ""):
			return todoInput{}, badRequest("Title is required", nil)
		case !create && present && title == "":
			return todoInput{}, badRequest("Title cannot be empty", nil)
		}
	}

	if err := schema.Validate(doc); err != nil {
		return todoInput{}, badRequest("Invalid request body", schemaError(err))
	}

	var in todoInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return todoInput{}, badRequest("Invalid request body", err)
	}
	return in, nil
}

// schemaError reduces a validation error to its first leaf cause.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	location := ve.InstanceLocation
	if location == "" {
		location = "/"
	}
	return fmt.Errorf("%s: %s", location, ve.Message)
}

// parseListQuery reads completed, page and limit. page is ignored without limit.
func parseListQuery(q url.Values) (opts models.ListOptions, page int64, err *requestError) {
	if v := q.Get("completed"); v != "" {
		completed, perr := strconv.ParseBool(v)
		if perr != nil {
			return opts, 0, badRequest("Invalid completed filter, expected true or false", nil)
		}
		opts.Completed = &completed
	}

	if v := q.Get("limit"); v != "" {
		limit, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || limit < 1 {
			return opts, 0, badRequest("Invalid limit, expected a positive integer", nil)
		}
		opts.Limit = limit
	}

	page = 1
	if v := q.Get("page"); v != "" {
		p, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || p < 1 {
			return opts, 0, badRequest("Invalid page, expected a positive integer", nil)
		}
		page = p
	}

	if opts.Limit == 0 {
		return opts, 0, nil
	}
	opts.Skip = (page - 1) * opts.Limit
	return opts, page, nil
}
