package worldstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"worldhost.ai/internal/sim/worldinfo"
)

const FormatVersion = 1

var ErrCorrupt = errors.New("corrupt world record")

// Header is the first line of an encoded record. It lets tools identify a
// record without decoding the body.
type Header struct {
	FormatVersion int    `json:"format_version"`
	Name          string `json:"name"`
	UniqueID      string `json:"unique_id"`
}

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	encErr  error

	decOnce sync.Once
	decoder *zstd.Decoder
	decErr  error
)

// A single-threaded encoder at a fixed level produces the same frame for the
// same input, which keeps repeated saves byte-identical.
func sharedEncoder() (*zstd.Encoder, error) {
	encOnce.Do(func() {
		encoder, encErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderCRC(true),
		)
	})
	return encoder, encErr
}

func sharedDecoder() (*zstd.Decoder, error) {
	decOnce.Do(func() {
		decoder, decErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return decoder, decErr
}

// Encode returns the durable bytes of rec: a JSON header line followed by the
// JSON record, zstd-compressed as one checksummed frame.
func Encode(rec *worldinfo.Record) ([]byte, error) {
	if rec == nil {
		return nil, errors.New("nil record")
	}
	var buf bytes.Buffer
	hb, err := json.Marshal(Header{FormatVersion: FormatVersion, Name: rec.Name, UniqueID: rec.UniqueID.String()})
	if err != nil {
		return nil, err
	}
	buf.Write(hb)
	buf.WriteByte('\n')
	rb, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %q: %w", rec.Name, err)
	}
	buf.Write(rb)
	buf.WriteByte('\n')

	enc, err := sharedEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

func Decode(b []byte) (*worldinfo.Record, error) {
	dec, err := sharedDecoder()
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	br := bufio.NewReader(bytes.NewReader(raw))

	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format_version %d", ErrCorrupt, h.FormatVersion)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	var rec worldinfo.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrCorrupt, err)
	}
	if rec.Name != h.Name || rec.UniqueID.String() != h.UniqueID {
		return nil, fmt.Errorf("%w: header does not match body", ErrCorrupt)
	}
	return &rec, nil
}

// DecodeHeader reads only the header line.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	dec, err := sharedDecoder()
	if err != nil {
		return h, err
	}
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	line, _, _ := bytes.Cut(raw, []byte{'\n'})
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	return h, nil
}
