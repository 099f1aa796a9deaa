package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Encode writes b in its length-prefixed binary wire form.
//
// Layout, big-endian: id, outputRoot, eatPrefix, caseId, sentTo as optional
// strings; errorCount and priority as int32; simpleMode as a byte; oldest,
// youngest and totalFileSize as int64; the unit count as int32 followed by
// each unit (fileName, transactionId, failedToParse, failedToProcess).
// An optional string is a presence byte, then a uint16 length and the bytes.
func (b *Bundle) Encode(w io.Writer) error {
	if len(b.units) > MaxUnits {
		return fmt.Errorf("encode: %w", newErrCapacity(len(b.units), 0))
	}
	ew := &wireWriter{w: w}
	ew.optString(&b.ID)
	ew.optString(b.OutputRoot)
	ew.optString(b.EatPrefix)
	ew.optString(b.CaseID)
	ew.optString(b.SentTo)
	ew.int32(b.ErrorCount)
	ew.int32(b.Priority)
	ew.bool(b.SimpleMode)
	ew.int64(b.OldestFileTime)
	ew.int64(b.YoungestFileTime)
	ew.int64(b.TotalFileSize)
	ew.int32(len(b.units))
	for i := range b.units {
		u := &b.units[i]
		ew.optString(&u.FileName)
		ew.optString(u.TransactionID)
		ew.bool(u.FailedToParse)
		ew.bool(u.FailedToProcess)
	}
	if ew.err != nil {
		return fmt.Errorf("encode: %w", ew.err)
	}
	return nil
}

// Decode reads one bundle in wire form from r. A unit count above MaxUnits
// is rejected before any unit is read.
func Decode(r io.Reader) (*Bundle, error) {
	dr := &wireReader{r: r}
	b := &Bundle{}
	b.ID = Deref(dr.optString())
	b.OutputRoot = dr.optString()
	b.EatPrefix = dr.optString()
	b.CaseID = dr.optString()
	b.SentTo = dr.optString()
	b.ErrorCount = dr.int32()
	b.Priority = dr.int32()
	b.SimpleMode = dr.bool()
	b.OldestFileTime = dr.int64()
	b.YoungestFileTime = dr.int64()
	b.TotalFileSize = dr.int64()
	count := dr.int32()
	if dr.err != nil {
		return nil, fmt.Errorf("decode: %w", dr.err)
	}
	if count < 0 {
		return nil, fmt.Errorf("decode: %w: negative unit count %d", ErrMalformed, count)
	}
	if count > MaxUnits {
		return nil, fmt.Errorf("decode: %w", newErrCapacity(count, 0))
	}
	b.units = make([]Unit, 0, count)
	for i := 0; i < count; i++ {
		var u Unit
		name := dr.optString()
		u.FileName = Deref(name)
		u.TransactionID = dr.optString()
		u.FailedToParse = dr.bool()
		u.FailedToProcess = dr.bool()
		if dr.err != nil {
			return nil, fmt.Errorf("decode unit %d: %w", i, dr.err)
		}
		b.units = append(b.units, u)
	}
	return b, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (b *Bundle) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	decoded, err := Decode(r)
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("decode: %w: %d trailing bytes", ErrMalformed, r.Len())
	}
	*b = *decoded
	return nil
}

type wireWriter struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (ww *wireWriter) write(p []byte) {
	if ww.err != nil {
		return
	}
	_, ww.err = ww.w.Write(p)
}

func (ww *wireWriter) bool(v bool) {
	ww.buf[0] = 0
	if v {
		ww.buf[0] = 1
	}
	ww.write(ww.buf[:1])
}

func (ww *wireWriter) int32(v int) {
	if ww.err == nil && (v > math.MaxInt32 || v < math.MinInt32) {
		ww.err = fmt.Errorf("%w: int32 overflow %d", ErrMalformed, v)
		return
	}
	binary.BigEndian.PutUint32(ww.buf[:4], uint32(int32(v)))
	ww.write(ww.buf[:4])
}

func (ww *wireWriter) int64(v int64) {
	binary.BigEndian.PutUint64(ww.buf[:8], uint64(v))
	ww.write(ww.buf[:8])
}

func (ww *wireWriter) optString(s *string) {
	ww.bool(s != nil)
	if s == nil {
		return
	}
	if len(*s) > math.MaxUint16 {
		if ww.err == nil {
			ww.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(*s))
		}
		return
	}
	binary.BigEndian.PutUint16(ww.buf[:2], uint16(len(*s)))
	ww.write(ww.buf[:2])
	ww.write([]byte(*s))
}

type wireReader struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (wr *wireReader) read(n int) []byte {
	if wr.err != nil {
		return nil
	}
	if _, err := io.ReadFull(wr.r, wr.buf[:n]); err != nil {
		wr.err = truncated(err)
		return nil
	}
	return wr.buf[:n]
}

func (wr *wireReader) bool() bool {
	p := wr.read(1)
	if p == nil {
		return false
	}
	switch p[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		wr.err = fmt.Errorf("%w: invalid boolean byte %#x", ErrMalformed, p[0])
		return false
	}
}

func (wr *wireReader) int32() int {
	p := wr.read(4)
	if p == nil {
		return 0
	}
	return int(int32(binary.BigEndian.Uint32(p)))
}

func (wr *wireReader) int64() int64 {
	p := wr.read(8)
	if p == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(p))
}

func (wr *wireReader) optString() *string {
	if !wr.bool() {
		return nil
	}
	p := wr.read(2)
	if p == nil {
		return nil
	}
	n := int(binary.BigEndian.Uint16(p))
	data := make([]byte, n)
	if _, err := io.ReadFull(wr.r, data); err != nil {
		wr.err = truncated(err)
		return nil
	}
	s := string(data)
	return &s
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated input", ErrMalformed)
	}
	return err
}
