package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// maxBodyBytes ограничивает размер тела запроса
const maxBodyBytes = 4 << 20

const schemaBaseURL = "https://dealsync.local/schemas/"

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

var (
	// errMalformedBody is a request body that is not JSON.
	errMalformedBody = errors.New("malformed request body")
	// errInvalidBody is a JSON body that violates its schema.
	errInvalidBody = errors.New("invalid request body")
)

// loadSchemas компилирует все встроенные схемы один раз
func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = fmt.Errorf("failed to read schemas: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020

		for _, e := range entries {
			data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = fmt.Errorf("failed to read schema %s: %w", e.Name(), err)
				return
			}
			if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("schema %s load failed: %w", e.Name(), err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema, len(entries))
		for _, e := range entries {
			s, err := c.Compile(schemaBaseURL + e.Name())
			if err != nil {
				schemasErr = fmt.Errorf("schema %s compile failed: %w", e.Name(), err)
				return
			}
			compiled[e.Name()] = s
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

// decodeBody читает тело, проверяет его схемой name и декодирует в dst
func decodeBody(w http.ResponseWriter, r *http.Request, name string, dst any) error {
	compiled, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformedBody, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", errMalformedBody, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}
	return nil
}
