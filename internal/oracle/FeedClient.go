/*

This file contains the JSON-RPC client for the collaborator price service.
Prices arrive as decimal strings and are parsed into sdkmath.LegacyDec; a
quote that fails to parse is treated as not published.

*/

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/types"
)

var oracleLogger = logger.GetForComponent("oracle_feed")

// Error definitions for zero-tolerance error handling
var (
	ErrFeedRequestFailed  = errors.New("price feed request failed")
	ErrFeedInvalidPayload = errors.New("price feed payload is invalid")
)

const (
	feedMaxRetries = 3
	feedTimeout    = 20 * time.Second
)

// feedRPCRequest defines the structure of a JSON-RPC request to the price service.
type feedRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  feedQueryParams `json:"params"`
}

// feedQueryParams defines the parameters for the "oracle_latest" method.
type feedQueryParams struct {
	Denom string `json:"denom"`
}

// feedRPCResponse defines the structure of a JSON-RPC response from the price service.
type feedRPCResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int            `json:"id"`
	Result  *feedRPCQuote  `json:"result,omitempty"`
	Error   *feedRPCStatus `json:"error,omitempty"`
}

// feedRPCQuote is the published price record as the service encodes it.
type feedRPCQuote struct {
	Denom string `json:"denom"`
	Price string `json:"price"` // Decimal string
	AsOf  int64  `json:"as_of"` // Unix seconds
}

// feedRPCStatus defines the structure of a JSON-RPC error.
type feedRPCStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// FeedClient queries the collaborator price service over JSON-RPC.
type FeedClient struct {
	endpoint string
	client   *http.Client
}

// NewFeedClient validates the endpoint and returns a ready client.
func NewFeedClient(endpoint string) (*FeedClient, error) {
	if endpoint == "" {
		return nil, errors.Join(types.ErrValidation, errors.New("price feed endpoint is empty"))
	}
	return &FeedClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: feedTimeout},
	}, nil
}

// Latest fetches the most recent quote for denom, retrying transient
// transport failures with linear backoff. Freshness is not judged here;
// callers apply Fresh against their own clock.
func (f *FeedClient) Latest(ctx context.Context, denom string) (Quote, error) {
	if denom == "" {
		return Quote{}, errors.Join(types.ErrValidation, errors.New("denom is empty"))
	}

	payload, err := json.Marshal(feedRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "oracle_latest",
		Params:  feedQueryParams{Denom: denom},
	})
	if err != nil {
		return Quote{}, errors.Join(ErrFeedRequestFailed, err)
	}

	var lastErr error
	for attempt := 1; attempt <= feedMaxRetries; attempt++ {
		quote, err := f.query(ctx, denom, payload)
		if err == nil {
			return quote, nil
		}
		lastErr = err

		// Payload errors will not improve with retries
		if errors.Is(err, ErrFeedInvalidPayload) || ctx.Err() != nil {
			break
		}
		oracleLogger.Warn().
			Err(err).
			Str("denom", denom).
			Int("attempt", attempt).
			Msg("Price feed request failed, will retry if attempts remain")
		if attempt < feedMaxRetries {
			select {
			case <-ctx.Done():
				return Quote{}, errors.Join(ErrFeedRequestFailed, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	oracleLogger.Error().
		Err(lastErr).
		Str("denom", denom).
		Int("maxRetries", feedMaxRetries).
		Msg("All price feed attempts failed")
	return Quote{}, lastErr
}

func (f *FeedClient) query(ctx context.Context, denom string, payload []byte) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Quote{}, errors.Join(ErrFeedRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, errors.Join(ErrFeedRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, errors.Join(ErrFeedRequestFailed, fmt.Errorf("price service returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, errors.Join(ErrFeedRequestFailed, err)
	}

	var rpcResp feedRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return Quote{}, errors.Join(ErrFeedInvalidPayload, err)
	}
	if rpcResp.Error != nil {
		return Quote{}, errors.Join(ErrFeedRequestFailed, fmt.Errorf("price service error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	if rpcResp.Result == nil {
		return Quote{}, errors.Join(ErrFeedInvalidPayload, fmt.Errorf("no result for %s", denom))
	}
	if rpcResp.Result.Denom != denom {
		return Quote{}, errors.Join(ErrFeedInvalidPayload, fmt.Errorf("asked for %s, got quote for %s", denom, rpcResp.Result.Denom))
	}

	price, err := sdkmath.LegacyNewDecFromStr(rpcResp.Result.Price)
	if err != nil {
		return Quote{}, errors.Join(ErrFeedInvalidPayload, fmt.Errorf("unparseable price %q for %s: %w", rpcResp.Result.Price, denom, err))
	}

	quote := Quote{Denom: denom, Price: price, AsOf: rpcResp.Result.AsOf}
	if err := quote.Validate(); err != nil {
		return Quote{}, errors.Join(ErrFeedInvalidPayload, err)
	}

	oracleLogger.Debug().
		Str("denom", denom).
		Str("price", price.String()).
		Int64("as_of", quote.AsOf).
		Msg("Quote retrieved")
	return quote, nil
}
