package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-Id"

	bearerPrefix    = "Bearer "
	contentTypeJSON = "application/json"
)

// Request describes an API call. It is a value and may be replayed any number of times,
// that is why bodies are kept as Go values and encoded on every send.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	// JSON body. Ignored if Form is set
	Body any

	// Multipart body
	Form *Form
}

// Multipart form body
type Form struct {
	Fields map[string]string
	Files  []FormFile
}

type FormFile struct {
	Field    string
	FileName string
	Content  []byte
}

// WithBearer returns request copy with Authorization header set to token
// Empty token removes the header
func (r Request) WithBearer(token string) Request {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}

	if token == "" {
		h.Del(HeaderAuthorization)
	} else {
		h.Set(HeaderAuthorization, bearerPrefix+token)
	}

	r.Header = h
	return r
}

// Bearer returns token from Authorization header or empty string
func (r Request) Bearer() string {
	return strings.TrimPrefix(r.Header.Get(HeaderAuthorization), bearerPrefix)
}

func (r Request) String() string {
	return r.Method + " " + r.Path
}

// body encodes request body and returns it with content type
// For multipart the content type carries the boundary; never override it with json
func (r Request) body() (io.Reader, string, error) {
	switch {
	case r.Form != nil:
		return r.Form.encode()
	case r.Body != nil:
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode body: %w", err)
		}
		return bytes.NewReader(b), contentTypeJSON, nil
	default:
		return nil, "", nil
	}
}

func (f *Form) encode() (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for name, value := range f.Fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	for _, file := range f.Files {
		part, err := w.CreateFormFile(file.Field, file.FileName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file %s: %w", file.Field, err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, "", fmt.Errorf("failed to write form file %s: %w", file.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf, w.FormDataContentType(), nil
}
