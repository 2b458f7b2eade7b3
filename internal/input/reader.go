package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"tokencount/internal/domain"
)

// Source identifies where the payload is read from.
type Source string

const (
	SourceStdin    Source = "stdin"
	SourceFile     Source = "file"
	SourceMessages Source = "messages"
)

// Options selects the input source. At most one path may be set; when none
// is set the payload is read from stdin.
type Options struct {
	FilePath     string
	MessagesPath string
}

// Select resolves the active source and its path.
func (o Options) Select() (Source, string, error) {
	switch {
	case o.FilePath != "" && o.MessagesPath != "":
		return "", "", fmt.Errorf("%w: --file and --messages cannot be used together", domain.ErrSourceConflict)
	case o.MessagesPath != "":
		return SourceMessages, o.MessagesPath, nil
	case o.FilePath != "":
		return SourceFile, o.FilePath, nil
	default:
		return SourceStdin, "", nil
	}
}

// Reader produces exactly one domain.Payload per call to Read.
type Reader struct {
	stdin    io.Reader
	readFile func(name string) ([]byte, error)
}

// NewReader returns a reader that uses stdin for the stdin source.
func NewReader(stdin io.Reader) *Reader {
	return &Reader{stdin: stdin, readFile: os.ReadFile}
}

// Read obtains the payload from the source selected by opts.
func (r *Reader) Read(opts Options) (domain.Payload, error) {
	src, path, err := opts.Select()
	if err != nil {
		return domain.Payload{}, err
	}
	switch src {
	case SourceMessages:
		return r.readMessages(path)
	case SourceFile:
		return r.readText(path)
	default:
		return r.readStdin()
	}
}

func (r *Reader) readStdin() (domain.Payload, error) {
	if r.stdin == nil {
		return domain.PlainText("", string(SourceStdin)), nil
	}
	data, err := io.ReadAll(r.stdin)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("input read stdin: %w", err)
	}
	if !utf8.Valid(data) {
		return domain.Payload{}, fmt.Errorf("%w: failed to decode stdin as UTF-8", domain.ErrInvalidInput)
	}
	return domain.PlainText(string(data), string(SourceStdin)), nil
}

func (r *Reader) readText(path string) (domain.Payload, error) {
	data, err := r.load(path, "file")
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.PlainText(string(data), path), nil
}

func (r *Reader) readMessages(path string) (domain.Payload, error) {
	data, err := r.load(path, "messages file")
	if err != nil {
		return domain.Payload{}, err
	}
	msgs, err := ParseMessages(data, path)
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.MessageList(msgs, path), nil
}

// load reads a named file and checks it is UTF-8.
func (r *Reader) load(path, label string) ([]byte, error) {
	data, err := r.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s %s", domain.ErrSourceNotFound, label, path)
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("input: permission denied reading %s %s: %w", label, path, err)
		}
		return nil, fmt.Errorf("input read %s %s: %w", label, path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: failed to decode %s %s as UTF-8", domain.ErrInvalidInput, label, path)
	}
	return data, nil
}

// ParseMessages decodes a JSON array of {role, content} objects. source is
// used in error messages. The result preserves the order of the array.
func ParseMessages(data []byte, source string) ([]domain.Message, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON in messages file %s: %v", domain.ErrInvalidInput, source, err)
	}
	items, ok := doc.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: messages must be an array of objects in %s, got %s", domain.ErrInvalidInput, source, jsonKind(doc))
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: messages array cannot be empty in %s", domain.ErrInvalidInput, source)
	}
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: message %d must be an object in %s, got %s", domain.ErrInvalidInput, i, source, jsonKind(item))
		}
		for _, field := range []string{"role", "content"} {
			if _, ok := obj[field]; !ok {
				return nil, fmt.Errorf("%w: message %d missing required field '%s' in %s", domain.ErrInvalidInput, i, field, source)
			}
		}
		if err := validateMessage(obj); err != nil {
			return nil, fmt.Errorf("%w: message %d in %s: %v", domain.ErrInvalidInput, i, source, err)
		}
	}
	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%w: messages in %s: %v", domain.ErrInvalidInput, source, err)
	}
	return msgs, nil
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
