package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flashbots/sealbatch/protocol"
)

// HTTPReceiver delivers fulfillments to a remote sealbatch service.
type HTTPReceiver struct {
	URL        string
	httpClient *http.Client
}

// NewHTTPReceiver posts callbacks to url, normally the service's
// /oracle/callback endpoint.
func NewHTTPReceiver(url string) *HTTPReceiver {
	return &HTTPReceiver{
		URL:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// OnDecryptionCallback posts a CallbackMessage. Protocol failures reported
// by the remote side are returned wrapping their sentinel error.
func (r *HTTPReceiver) OnDecryptionCallback(requestID uint64, cleartexts, proof []byte) (*protocol.DecryptionResult, error) {
	body, err := protocol.SerializeMessage(&protocol.CallbackMessage{
		RequestID:  requestID,
		Cleartexts: cleartexts,
		Proof:      proof,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil {
			if sentinel := protocol.ErrorFromCode(er.Code); sentinel != nil {
				return nil, fmt.Errorf("callback rejected (%d): %w", resp.StatusCode, sentinel)
			}
		}
		return nil, fmt.Errorf("callback failed (%d): %s", resp.StatusCode, string(respBody))
	}

	return protocol.DecodeMessage[protocol.DecryptionResult](resp.Body)
}
