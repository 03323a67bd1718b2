// Package remote speaks the vote API of a qrsafe server. It implements
// ports.RemoteRatings for replicas that sync against that server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qrsafe/internal/domain"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type voteRequest struct {
	VoterID        string    `json:"voterId"`
	IdentifierHash string    `json:"identifierHash"`
	Verdict        string    `json:"verdict,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) SubmitVote(ctx context.Context, v domain.Vote) (domain.CommunityRating, error) {
	return c.send(ctx, http.MethodPost, "/v1/votes", voteRequest{
		VoterID: v.VoterID, IdentifierHash: v.IdentifierHash, Verdict: string(v.Verdict), Timestamp: v.Timestamp,
	})
}

func (c *Client) RetractVote(ctx context.Context, voterID, hash string, at time.Time) (domain.CommunityRating, error) {
	return c.send(ctx, http.MethodDelete, "/v1/votes", voteRequest{VoterID: voterID, IdentifierHash: hash, Timestamp: at})
}

func (c *Client) FetchRating(ctx context.Context, hash string) (domain.CommunityRating, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ratings/"+url.PathEscape(hash), nil)
	if err != nil {
		return domain.CommunityRating{}, false, err
	}
	var r domain.CommunityRating
	err = c.do(req, &r)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CommunityRating{IdentifierHash: hash}, false, nil
	}
	if err != nil {
		return domain.CommunityRating{}, false, err
	}
	return r, true, nil
}

func (c *Client) send(ctx context.Context, method, path string, body voteRequest) (domain.CommunityRating, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return domain.CommunityRating{}, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return domain.CommunityRating{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var r domain.CommunityRating
	if err := c.do(req, &r); err != nil {
		return domain.CommunityRating{}, err
	}
	return r, nil
}

// do executes req and decodes a 200 body into out. Error responses map to
// the domain sentinels; anything the server could not answer is
// ErrBackendUnavailable.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %w: %w", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("remote: decode: %w: %w", domain.ErrBackendUnavailable, err)
		}
		return nil
	}
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
	return classify(resp.StatusCode, eb.Error)
}

func classify(status int, code string) error {
	switch {
	case code == domain.ErrRateLimited.Error() || status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case code == domain.ErrAbuseDetected.Error() || status == http.StatusForbidden:
		return domain.ErrAbuseDetected
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusBadRequest:
		return fmt.Errorf("remote: %s: %w", code, domain.ErrInvalidVerdict)
	default:
		return fmt.Errorf("remote: status %d: %w", status, domain.ErrBackendUnavailable)
	}
}
