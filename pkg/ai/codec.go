package ai

import (
	"bytes"
	"encoding/gob"
)

// EncodeRequest gob-encodes req into a frame payload.
func EncodeRequest(req Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRequest decodes a frame payload produced by EncodeRequest.
func DecodeRequest(payload []byte) (Request, error) {
	var req Request
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// EncodeResponse gob-encodes resp into a frame payload.
func EncodeResponse(resp Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeResponse decodes a frame payload produced by EncodeResponse.
func DecodeResponse(payload []byte) (Response, error) {
	var resp Response
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
