package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ReadResponse reads one newline-terminated response from r.
func ReadResponse(r *bufio.Reader, maxSize int) (Response, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxSize {
			return Response{}, ErrMessageTooLarge
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
			break
		}
		return Response{}, err
	}
	return DecodeResponse(line)
}

// DecodeResponse parses one response message.
func DecodeResponse(data []byte) (Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Response{}, ErrEmptyMessage
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return resp, nil
}

// DecodeValues unmarshals the raw values payload into out. Absent values
// leave out untouched.
func (r Response) DecodeValues(out any) error {
	if len(r.Values) == 0 || bytes.Equal(bytes.TrimSpace(r.Values), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(r.Values, out); err != nil {
		return fmt.Errorf("protocol: decode %s/%s values: %w", r.Category, r.Request, err)
	}
	return nil
}

func (r Response) TrackerValues() (TrackerValues, error) {
	var v TrackerValues
	err := r.DecodeValues(&v)
	return v, err
}

func (r Response) PointEndValues() (PointEndValues, error) {
	var v PointEndValues
	err := r.DecodeValues(&v)
	return v, err
}

func (r Response) ErrorValues() ErrorValues {
	var v ErrorValues
	_ = r.DecodeValues(&v)
	return v
}
