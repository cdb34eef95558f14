package wire

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode"
)

const (
	// FieldWidth is the width of both hex length fields.
	FieldWidth = 8
	// MaxFieldValue is the largest value that fits in FieldWidth hex digits.
	MaxFieldValue = 0xFFFFFFFF
	// ChunkSize bounds a single body write.
	ChunkSize = 4096

	NameSuffix = "-mm.c"
)

var (
	ErrFieldOverflow  = errors.New("value does not fit in 8 hex digits")
	ErrMalformedField = errors.New("malformed hex length field")
	ErrNameTooLong    = errors.New("upload name too long")
	ErrNonASCIIName   = errors.New("upload name is not ASCII")
)

// UploadName is the name the submission is stored under on the server.
func UploadName(identifier string) string {
	return identifier + NameSuffix
}

// EncodeLength renders n as 8 lowercase, zero padded hex digits.
func EncodeLength(n uint64) ([]byte, error) {
	if n > MaxFieldValue {
		return nil, fmt.Errorf("%w: %d", ErrFieldOverflow, n)
	}
	return fmt.Appendf(make([]byte, 0, FieldWidth), "%08x", n), nil
}

// DecodeLength parses a field produced by EncodeLength. Only lowercase
// digits are accepted.
func DecodeLength(field []byte) (uint64, error) {
	if len(field) != FieldWidth {
		return 0, fmt.Errorf("%w: %q", ErrMalformedField, field)
	}
	for _, c := range field {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return 0, fmt.Errorf("%w: %q", ErrMalformedField, field)
		}
	}
	n, err := strconv.ParseUint(string(field), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedField, err)
	}
	return n, nil
}

// Header precedes the file bytes on the wire.
type Header struct {
	Name string
	Size uint64
}

// Bytes encodes the whole header. The name must be ASCII and both fields
// must fit in FieldWidth digits; nothing is produced otherwise.
func (h Header) Bytes() ([]byte, error) {
	for i := 0; i < len(h.Name); i++ {
		if h.Name[i] > unicode.MaxASCII {
			return nil, fmt.Errorf("%w: %q", ErrNonASCIIName, h.Name)
		}
	}
	nameLen, err := EncodeLength(uint64(len(h.Name)))
	if err != nil {
		return nil, fmt.Errorf("name length: %w", err)
	}
	size, err := EncodeLength(h.Size)
	if err != nil {
		return nil, fmt.Errorf("file size: %w", err)
	}

	buf := make([]byte, 0, 2*FieldWidth+len(h.Name))
	buf = append(buf, nameLen...)
	buf = append(buf, h.Name...)
	buf = append(buf, size...)
	return buf, nil
}

func (h Header) WriteTo(w io.Writer) (int64, error) {
	buf, err := h.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadHeader reads a header from r. Names longer than maxName bytes are
// rejected before they are read.
func ReadHeader(r io.Reader, maxName int) (Header, error) {
	field := make([]byte, FieldWidth)

	if _, err := io.ReadFull(r, field); err != nil {
		return Header{}, fmt.Errorf("read name length: %w", err)
	}
	nameLen, err := DecodeLength(field)
	if err != nil {
		return Header{}, fmt.Errorf("name length: %w", err)
	}
	if maxName > 0 && nameLen > uint64(maxName) {
		return Header{}, fmt.Errorf("%w: %d > %d", ErrNameTooLong, nameLen, maxName)
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Header{}, fmt.Errorf("read name: %w", err)
	}

	if _, err := io.ReadFull(r, field); err != nil {
		return Header{}, fmt.Errorf("read file size: %w", err)
	}
	size, err := DecodeLength(field)
	if err != nil {
		return Header{}, fmt.Errorf("file size: %w", err)
	}

	return Header{Name: string(name), Size: size}, nil
}
