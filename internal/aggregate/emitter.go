package aggregate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"go/format"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Emitter writes records into a unit's aggregation package.
type Emitter struct {
	dir    string
	logger *zap.Logger
}

// NewEmitter returns an emitter writing under unitDir/bindgraph_aggregated.
func NewEmitter(unitDir string, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{dir: filepath.Join(unitDir, PackageName), logger: logger}
}

// Dir returns the aggregation package directory.
func (e *Emitter) Dir() string { return e.dir }

// Emit writes rec as one Go file and returns its path. Records of non-public
// elements are wrapped in a proxy record.
func (e *Emitter) Emit(rec Record, public bool) (string, error) {
	if !public {
		wrapped, err := NewRecord(KindProxy, rec.ID, rec.Unit, Proxy{Visibility: "package", Record: rec})
		if err != nil {
			return "", err
		}
		rec = wrapped
	}

	src, err := Render(rec)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", e.dir, err)
	}
	path := filepath.Join(e.dir, FileName(rec))
	if err := checkOverwrite(path, rec); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	e.logger.Debug("emitted record", zap.String("record", rec.String()), zap.String("path", path))
	return path, nil
}

// Render returns the gofmt'd source of the file holding rec.
func Render(rec Record) ([]byte, error) {
	var js bytes.Buffer
	enc := json.NewEncoder(&js)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	var buf bytes.Buffer
	buf.WriteString("// Code generated by bindgraph. DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n\n", PackageName)
	fmt.Fprintf(&buf, "//%s%s %s\n", DirectivePrefix, DirectiveRecord, strings.TrimSpace(js.String()))

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format record %s: %w", rec.ID, err)
	}
	return src, nil
}

// FileName returns the file name a record is emitted to. Names are unique
// per kind and id: the readable part is followed by a hash of both, and a
// proxy is named after the record it wraps.
func FileName(rec Record) string {
	target := rec
	if rec.Kind == KindProxy {
		if inner, err := rec.Unwrap(); err == nil {
			target = inner
		}
	}

	var b strings.Builder
	if rec.Kind == KindProxy {
		b.WriteString(string(KindProxy))
		b.WriteByte('_')
	}
	b.WriteString(string(target.Kind))
	b.WriteByte('_')
	for _, r := range target.ID {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(target.identity()))
	b.WriteByte('_')
	b.WriteString(hex.EncodeToString(sum[:4]))
	b.WriteString(".go")
	return b.String()
}

// checkOverwrite fails when path already holds a record with a different
// kind or id. Re-emitting the same record replaces it.
func checkOverwrite(path string, rec Record) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	want, err := rec.Unwrap()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		d, ok := ParseDirective(line)
		if !ok || d.Kind != DirectiveRecord {
			continue
		}
		var prev Record
		if err := json.Unmarshal([]byte(d.Value), &prev); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if prev, err = prev.Unwrap(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if prev.identity() != want.identity() {
			return fmt.Errorf("%s already holds %s, refusing to replace it with %s", path, prev, want)
		}
	}
	return nil
}
