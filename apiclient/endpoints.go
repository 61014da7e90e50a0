package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JellyTony/poolboard/protocol"
)

// Field sets requested from the stats endpoints.
var (
	NetworkFields = []string{"height", "timestamp", "gps", "difficulty", "secondary_scaling"}
	PoolFields    = []string{"height", "timestamp", "gps", "active_miners", "total_blocks_found", "shares_processed"}
	WorkerFields  = []string{"height", "timestamp", "gps", "valid_shares"}
)

func fieldsPath(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return "/" + strings.Join(fields, ",")
}

func (c *Client) LatestBlock(ctx context.Context) (protocol.LatestBlock, error) {
	var b protocol.LatestBlock
	err := c.get(ctx, c.base+"/grin/block", nil, &b)
	return b, err
}

// NetworkStats returns count records ending at height.
func (c *Client) NetworkStats(ctx context.Context, height, count int64, fields ...string) ([]protocol.BlockRecord, error) {
	if len(fields) == 0 {
		fields = NetworkFields
	}
	var out []protocol.BlockRecord
	err := c.get(ctx, c.base+"/grin/stats/"+rangePath(height, count)+fieldsPath(fields), nil, &out)
	return out, err
}

func (c *Client) PoolStats(ctx context.Context, height, count int64, fields ...string) ([]protocol.BlockRecord, error) {
	if len(fields) == 0 {
		fields = PoolFields
	}
	var out []protocol.BlockRecord
	err := c.get(ctx, c.base+"/pool/stats/"+rangePath(height, count)+fieldsPath(fields), nil, &out)
	return out, err
}

func (c *Client) RecentBlocks(ctx context.Context, height, count int64) ([]protocol.PoolBlock, error) {
	var out []protocol.PoolBlock
	err := c.get(ctx, c.base+"/pool/blocks/"+rangePath(height, count), nil, &out)
	return out, err
}

func (c *Client) WorkerStats(ctx context.Context, cred Credentials, height, count int64, fields ...string) ([]protocol.BlockRecord, error) {
	if len(fields) == 0 {
		fields = WorkerFields
	}
	var out []protocol.BlockRecord
	u := fmt.Sprintf("%s/worker/stats/%d/%s%s", c.base, cred.ID, rangePath(height, count), fieldsPath(fields))
	err := c.get(ctx, u, legacyAuth(cred), &out)
	return out, err
}

// WorkerShares returns per-height valid share totals for the reward window.
func (c *Client) WorkerShares(ctx context.Context, cred Credentials, height, count int64) ([]protocol.BlockRecord, error) {
	var out []protocol.BlockRecord
	u := fmt.Sprintf("%s/worker/shares/%d/%s", c.base, cred.ID, rangePath(height, count))
	err := c.get(ctx, u, legacyAuth(cred), &out)
	return out, err
}

func (c *Client) WorkerRigs(ctx context.Context, cred Credentials, height, count int64) (protocol.RigShareMap, error) {
	var out protocol.RigShareMap
	u := fmt.Sprintf("%s/worker/rigs/%d/%s", c.base, cred.ID, rangePath(height, count))
	err := c.get(ctx, u, legacyAuth(cred), &out)
	return out, err
}

// Login exchanges a username and password for both API tokens.
func (c *Client) Login(ctx context.Context, username, password string) (Credentials, error) {
	var v2 protocol.LoginResponse
	if err := c.postJSON(ctx, c.v2+"/login", nil, basicAuth(username, password), &v2); err != nil {
		return Credentials{}, err
	}
	var legacy protocol.LoginResponse
	if err := c.get(ctx, c.base+"/pool/users", basicAuth(username, password), &legacy); err != nil {
		return Credentials{}, err
	}
	id := v2.ID
	if id == 0 {
		id = legacy.ID
	}
	if v2.Token == "" || legacy.Token == "" || id == 0 {
		return Credentials{}, &FetchError{Kind: KindMalformed, Endpoint: "/login", Err: fmt.Errorf("incomplete login response")}
	}
	return Credentials{ID: id, Username: username, Token: v2.Token, LegacyToken: legacy.Token}, nil
}

func (c *Client) Signup(ctx context.Context, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	return c.do(ctx, http.MethodPost, c.base+"/pool/users", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil, nil)
}

// PaymentSlate asks the pool for an unsigned payout slatepack.
func (c *Client) PaymentSlate(ctx context.Context, cred Credentials, req protocol.PaymentRequest) (string, error) {
	var out protocol.SlateResponse
	u := fmt.Sprintf("%s/pool/payment/get_tx_slate/%d", c.v2, cred.ID)
	if err := c.postJSON(ctx, u, req, tokenAuth(cred), &out); err != nil {
		return "", err
	}
	return out.Slate, nil
}

// SubmitSlate sends the miner's signed slatepack back to the pool.
func (c *Client) SubmitSlate(ctx context.Context, cred Credentials, slate string) error {
	u := fmt.Sprintf("%s/pool/payment/submit_tx_slate/%d", c.v2, cred.ID)
	return c.postJSON(ctx, u, protocol.SlateRequest{Slate: slate}, tokenAuth(cred), nil)
}
