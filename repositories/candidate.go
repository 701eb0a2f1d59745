package repositories

import (
	"cinematch/contract"
	"cinematch/domain"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CandidateRepository turns remote candidate records into typed candidates.
// In strict mode an unknown match status fails the whole fetch instead of
// defaulting to none, which surfaces client/server version drift.
type CandidateRepository struct {
	api    contract.IMatchAPI
	log    *slog.Logger
	strict bool
}

func NewCandidateRepository(api contract.IMatchAPI, log *slog.Logger, strict bool) CandidateRepository {
	return CandidateRepository{api: api, log: log, strict: strict}
}

func (c CandidateRepository) Fetch(ctx context.Context) ([]domain.MatchCandidate, error) {
	records, err := c.api.FetchCandidates(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]domain.MatchCandidate, 0, len(records))
	for _, record := range records {
		candidate, err := c.toCandidate(record)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (c CandidateRepository) toCandidate(record domain.CandidateRecord) (domain.MatchCandidate, error) {
	status, err := domain.ParseMatchStatus(record.MatchStatus)
	if err != nil {
		if c.strict {
			return domain.MatchCandidate{}, fmt.Errorf("candidate %s: %w", record.UserID, err)
		}
		c.log.Warn("Unknown match status, defaulting to none",
			"user_id", record.UserID, "state", record.MatchStatus)
	}

	candidate := domain.MatchCandidate{
		UserID:         record.UserID,
		DisplayName:    record.DisplayName,
		OverlapCount:   record.OverlapCount,
		SharedMovieIDs: record.SharedMovieIDs,
		SharedMovies:   record.SharedMovies,
		Status:         status,
	}
	if status == domain.StatusPendingSent {
		at := time.Time{}
		if record.RequestSentAt != "" {
			parsed, err := domain.ParseTimestamp(record.RequestSentAt)
			if err != nil {
				c.log.Warn("Unreadable request date", "user_id", record.UserID, "error", err)
			} else {
				at = parsed
			}
		}
		candidate.RequestSentAt = &at
	}
	return candidate, nil
}
