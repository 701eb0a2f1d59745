// Package api is the HTTP client of the matching and chat endpoints.
package api

import (
	"bytes"
	"cinematch/domain"
	"cinematch/errors"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const bodyExcerpt = 256

// Client implements contract.IMatchAPI and contract.IChatAPI.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	log      *slog.Logger
	validate *validator.Validate
}

func NewClient(baseURL, token string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
		log:      log,
		validate: validator.New(),
	}
}

func (c *Client) FetchCandidates(ctx context.Context) ([]domain.CandidateRecord, error) {
	var dtos []CandidateDTO
	if err := c.do(ctx, http.MethodGet, "/api/Matches/candidates", nil, &dtos); err != nil {
		return nil, err
	}
	valid := lo.Filter(dtos, func(dto CandidateDTO, _ int) bool {
		if err := c.validate.Struct(dto); err != nil {
			c.log.Warn("Dropping invalid candidate", "user_id", dto.UserID, "error", err)
			return false
		}
		return true
	})
	return lo.Map(valid, func(dto CandidateDTO, _ int) domain.CandidateRecord {
		return dto.toRecord()
	}), nil
}

func (c *Client) Accept(ctx context.Context, req domain.MatchRequest) (domain.AcceptResult, error) {
	var result acceptResultDTO
	body := matchRequestDTO{TargetUserID: req.TargetUserID, TmdbID: req.SharedMovieID}
	if err := c.do(ctx, http.MethodPost, "/api/Matches/request", body, &result); err != nil {
		return domain.AcceptResult{}, err
	}
	if err := c.validate.Struct(result); err != nil {
		return domain.AcceptResult{}, fmt.Errorf("%w: accept result: %w", errors.ErrInvalidPayload, err)
	}
	return domain.AcceptResult{Matched: result.Matched, RoomID: result.RoomID}, nil
}

func (c *Client) Decline(ctx context.Context, req domain.MatchRequest) error {
	body := matchRequestDTO{TargetUserID: req.TargetUserID, TmdbID: req.SharedMovieID}
	return c.do(ctx, http.MethodPost, "/api/Matches/decline", body, nil)
}

// FetchMessages returns the raw records, timestamps unparsed. Invalid rows are
// passed through so the session can drop them with its own log line.
func (c *Client) FetchMessages(ctx context.Context, roomID string, limit int) ([]domain.MessageRecord, error) {
	path := "/api/Chats/" + url.PathEscape(roomID) + "/messages"
	if limit > 0 {
		path += "?take=" + strconv.Itoa(limit)
	}
	var dtos []MessageDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	return lo.Map(dtos, func(dto MessageDTO, _ int) domain.MessageRecord {
		return dto.toRecord(roomID)
	}), nil
}

func (c *Client) Leave(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/Chats/"+url.PathEscape(roomID)+"/leave", nil, nil)
}

func (c *Client) Rooms(ctx context.Context) ([]domain.ConversationRecord, error) {
	var dtos []ConversationDTO
	if err := c.do(ctx, http.MethodGet, "/api/Chats", nil, &dtos); err != nil {
		return nil, err
	}
	valid := lo.Filter(dtos, func(dto ConversationDTO, _ int) bool {
		return c.validate.Struct(dto) == nil
	})
	return lo.Map(valid, func(dto ConversationDTO, _ int) domain.ConversationRecord {
		return dto.toRecord()
	}), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConnection, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", errors.ErrConnection, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerpt))
		return fmt.Errorf("%w: %s %s: status %d: %s",
			errors.ErrRemoteRejection, method, path, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", errors.ErrInvalidPayload, method, path, err)
	}
	return nil
}
