package validator

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	apperrors "persona-ritual/backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
	raw    []byte
	mutex  sync.RWMutex
}

// NewOpenAPIValidator creates a validator from an in-memory document
func NewOpenAPIValidator(schema []byte) (*OpenAPIValidator, error) {
	doc, router, err := loadOpenAPISchema(schema)
	if err != nil {
		return nil, err
	}

	return &OpenAPIValidator{
		doc:    doc,
		router: router,
		raw:    schema,
	}, nil
}

// LoadOpenAPIValidator creates a validator from a schema file on disk
func LoadOpenAPIValidator(path string) (*OpenAPIValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema from %s: %w", path, err)
	}
	return NewOpenAPIValidator(data)
}

func loadOpenAPISchema(data []byte) (*openapi3.T, routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse OpenAPI schema: %w", err)
	}

	if err := doc.Validate(loader.Context); err != nil {
		return nil, nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}

	return doc, router, nil
}

// Reload swaps in a new schema
func (v *OpenAPIValidator) Reload(schema []byte) error {
	doc, router, err := loadOpenAPISchema(schema)
	if err != nil {
		return err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.doc = doc
	v.router = router
	v.raw = schema
	return nil
}

// Schema returns the raw document being enforced
func (v *OpenAPIValidator) Schema() []byte {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.raw
}

// Middleware rejects requests that do not match the document. Routes the document
// does not describe pass through untouched.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mutex.RLock()
		router := v.router
		v.mutex.RUnlock()

		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         false,
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			c.Error(apperrors.Validation("Invalid request: " + describe(err)))
			c.Abort()
			return
		}

		c.Next()
	}
}

// describe trims kin-openapi errors down to the part a client can act on
func describe(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			field := strings.Join(schemaErr.JSONPointer(), ".")
			if field != "" {
				return field + ": " + schemaErr.Reason
			}
			return schemaErr.Reason
		}
		if reqErr.Parameter != nil {
			return fmt.Sprintf("parameter %q: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.Reason != "" {
			return reqErr.Reason
		}
	}
	return err.Error()
}
