package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

var delim = []byte("\r\n\r\n----\r\n\r\n")

// ResponseToBytes serializes a response, preceded by the request that produced it, to HTTP/1.1 bytes.
// The response body is consumed and then replaced, so the response stays usable.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}

	if res.Request != nil {
		if err := requestHead(res.Request).Write(buf); err != nil {
			log.Warn().Err(err).Msg("Could not write request to bytes")
		}
	} else {
		log.Warn().Msg("Request not set")
	}
	buf.Write(delim)

	bts, err := responseToBytes(res)
	if err != nil {
		return nil, err
	}
	buf.Write(bts)

	return buf.Bytes(), nil
}

// BytesToResponse converts bytes created by ResponseToBytes back to a response.
func BytesToResponse(b []byte) (*http.Response, error) {
	reqBytes, resBytes, found := bytes.Cut(b, delim)
	if !found {
		return nil, fmt.Errorf("malformed stored response")
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
	if err != nil {
		log.Warn().Err(err).Bytes("bytes", reqBytes).Msg("Could not read request from stored response")
		req = nil
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
}

// requestHead copies the method, URL and headers of a request, without its body.
func requestHead(r *http.Request) *http.Request {
	req := &http.Request{
		Method:     r.Method,
		URL:        r.URL,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     r.Header.Clone(),
		Host:       r.Host,
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	return req
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	res.ContentLength = clonedRes.ContentLength
	res.TransferEncoding = clonedRes.TransferEncoding
	// return buffer bytes
	return bts, nil
}
