package stability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	slotSeparator  = ","
	fieldSeparator = ";"
	flagPassed     = "1"
	flagFailed     = "0"
)

var (
	// ErrMalformedSlot is wrapped by DecodeError when a data slot is not of
	// the form "buildNumber;flag".
	ErrMalformedSlot = errors.New("expected buildNumber;flag")

	// ErrIndexOutOfRange is wrapped by DecodeError when head, tail or size is
	// negative, or size exceeds the number of slots.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Record is the persisted form of one History: the ring indices and the
// physical buffer contents, each as text.
type Record struct {
	Head string `xml:"head" json:"head" yaml:"head"`
	Tail string `xml:"tail" json:"tail" yaml:"tail"`
	Size string `xml:"size" json:"size" yaml:"size"`
	Data string `xml:"data" json:"data" yaml:"data"`
}

// DecodeError reports the record field that could not be decoded.
type DecodeError struct {
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid stability record field %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode returns the persisted form of h. Tree links, the name and the stack
// trace are not part of the record.
func Encode(h *History) Record {
	return Record{
		Head: strconv.Itoa(h.head),
		Tail: strconv.Itoa(h.tail),
		Size: strconv.Itoa(h.size),
		Data: EncodeData(h.data),
	}
}

// Decode rebuilds a History from rec. The indices are taken verbatim; the
// buffer capacity is the number of slots in rec.Data. A capacity-0 history
// encodes its data as "", which decodes as a single empty slot, so it comes
// back with capacity 1.
func Decode(rec Record) (*History, error) {
	head, err := parseIndex("head", rec.Head)
	if err != nil {
		return nil, err
	}
	tail, err := parseIndex("tail", rec.Tail)
	if err != nil {
		return nil, err
	}
	size, err := parseIndex("size", rec.Size)
	if err != nil {
		return nil, err
	}
	data, err := DecodeData(rec.Data)
	if err != nil {
		return nil, err
	}
	if size > len(data) {
		return nil, &DecodeError{Field: "size", Value: rec.Size, Err: ErrIndexOutOfRange}
	}

	return &History{
		data: data,
		head: head,
		tail: tail,
		size: size,
	}, nil
}

// EncodeData renders buffer slots in physical order. An empty slot renders
// as nothing; a result renders as "buildNumber;1" or "buildNumber;0". Slots
// are joined with ",".
func EncodeData(data []*Result) string {
	var b strings.Builder
	for i, r := range data {
		if i > 0 {
			b.WriteString(slotSeparator)
		}
		if r == nil {
			continue
		}
		b.WriteString(strconv.Itoa(r.BuildNumber))
		b.WriteString(fieldSeparator)
		if r.Passed {
			b.WriteString(flagPassed)
		} else {
			b.WriteString(flagFailed)
		}
	}
	return b.String()
}

// DecodeData parses the output of EncodeData. Empty segments, including
// trailing ones, become empty slots. A flag other than "1" means failed.
func DecodeData(s string) ([]*Result, error) {
	segments := strings.Split(s, slotSeparator)
	data := make([]*Result, len(segments))

	for i, seg := range segments {
		if seg == "" {
			continue
		}

		field := fmt.Sprintf("data[%d]", i)
		parts := strings.Split(seg, fieldSeparator)
		if len(parts) < 2 || parts[1] == "" {
			return nil, &DecodeError{Field: field, Value: seg, Err: ErrMalformedSlot}
		}

		buildNumber, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, &DecodeError{Field: field, Value: seg, Err: err}
		}

		data[i] = &Result{
			BuildNumber: buildNumber,
			Passed:      parts[1] == flagPassed,
		}
	}

	return data, nil
}

func parseIndex(field, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &DecodeError{Field: field, Value: value, Err: err}
	}
	if n < 0 {
		return 0, &DecodeError{Field: field, Value: value, Err: ErrIndexOutOfRange}
	}
	return n, nil
}
