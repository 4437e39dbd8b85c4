package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

const maxMultipartMemory = 32 << 20

// FormFile is a file part of a multipart body.
type FormFile struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// FormData is a parsed multipart/form-data body.
type FormData struct {
	Values url.Values            `json:"values"`
	Files  map[string][]*FormFile `json:"files"`
}

func NewFormData() *FormData {
	return &FormData{Values: url.Values{}, Files: map[string][]*FormFile{}}
}

func (f *FormData) Clone() *FormData {
	if f == nil {
		return nil
	}
	out := NewFormData()
	for k, v := range f.Values {
		out.Values[k] = append([]string(nil), v...)
	}
	for k, files := range f.Files {
		for _, file := range files {
			out.Files[k] = append(out.Files[k], &FormFile{
				FileName:    file.FileName,
				ContentType: file.ContentType,
				Content:     append([]byte(nil), file.Content...),
			})
		}
	}
	return out
}

func mediaTypeOf(contentType string) (string, map[string]string) {
	if contentType == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mediaType), params
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func isBinaryMediaType(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "font/"),
		mediaType == "application/octet-stream",
		mediaType == "application/pdf",
		mediaType == "application/zip",
		mediaType == "multipart/mixed":
		return true
	default:
		return false
	}
}

// ParseBody turns a raw body into its structured form, chosen by content type:
// JSON -> any, multipart/form-data -> *FormData, url-encoded -> url.Values,
// text -> string, binary -> []byte. An empty body is nil.
// Missing and unrecognized content types try JSON first and fall back to text,
// or to bytes when the content is not valid UTF-8.
func ParseBody(contentType string, raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	mediaType, params := mediaTypeOf(contentType)
	switch {
	case isJSONMediaType(mediaType):
		return parseJSON(raw)
	case mediaType == "multipart/form-data":
		return parseMultipart(raw, params["boundary"])
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse url-encoded body: %w", err)
		}
		return values, nil
	case strings.HasPrefix(mediaType, "text/"):
		return string(raw), nil
	case isBinaryMediaType(mediaType):
		return append([]byte(nil), raw...), nil
	default:
		if parsed, err := parseJSON(raw); err == nil {
			return parsed, nil
		}
		if !utf8.Valid(raw) {
			return append([]byte(nil), raw...), nil
		}
		return string(raw), nil
	}
}

func parseJSON(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON body: %w", err)
	}
	return v, nil
}

func parseMultipart(raw []byte, boundary string) (*FormData, error) {
	if boundary == "" {
		return nil, errors.New("failed to parse form-data body: missing boundary")
	}
	reader := multipart.NewReader(bytes.NewReader(raw), boundary)
	form, err := reader.ReadForm(maxMultipartMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to parse form-data body: %w", err)
	}
	defer form.RemoveAll()

	data := NewFormData()
	for k, v := range form.Value {
		data.Values[k] = append([]string(nil), v...)
	}
	for k, headers := range form.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open form-data file %q: %w", fh.Filename, err)
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read form-data file %q: %w", fh.Filename, err)
			}
			data.Files[k] = append(data.Files[k], &FormFile{
				FileName:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Content:     content,
			})
		}
	}
	return data, nil
}

// EncodeBody serializes a declared body and returns the content type it implies.
func EncodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case []byte:
		return append([]byte(nil), b...), "application/octet-stream", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	case *FormData:
		return encodeMultipart(b)
	case json.RawMessage:
		return append([]byte(nil), b...), "application/json", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode JSON body: %w", err)
		}
		return raw, "application/json", nil
	}
}

func encodeMultipart(data *FormData) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(data.Values))
	for k := range data.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range data.Values[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", fmt.Errorf("failed to encode form-data field %q: %w", k, err)
			}
		}
	}

	fileKeys := make([]string, 0, len(data.Files))
	for k := range data.Files {
		fileKeys = append(fileKeys, k)
	}
	sort.Strings(fileKeys)
	for _, k := range fileKeys {
		for _, file := range data.Files[k] {
			part, err := w.CreateFormFile(k, file.FileName)
			if err != nil {
				return nil, "", fmt.Errorf("failed to encode form-data file %q: %w", file.FileName, err)
			}
			if _, err := part.Write(file.Content); err != nil {
				return nil, "", fmt.Errorf("failed to encode form-data file %q: %w", file.FileName, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form-data writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func cloneBody(v any) any {
	switch b := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(b))
		for k, item := range b {
			out[k] = cloneBody(item)
		}
		return out
	case []any:
		out := make([]any, len(b))
		for i, item := range b {
			out[i] = cloneBody(item)
		}
		return out
	case []byte:
		return append([]byte(nil), b...)
	case url.Values:
		out := make(url.Values, len(b))
		for k, item := range b {
			out[k] = append([]string(nil), item...)
		}
		return out
	case *FormData:
		return b.Clone()
	default:
		return v
	}
}
