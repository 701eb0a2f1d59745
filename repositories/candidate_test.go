package repositories

import (
	"cinematch/domain"
	"cinematch/errors"
	"cinematch/mocks"
	"context"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"log/slog"
	"testing"
	"time"
)

func TestCandidateRepository_Fetch_Parses_Status(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	api := mocks.NewMockIMatchAPI(ctrl)
	repository := NewCandidateRepository(api, logs.GetLoggerFromLevel(slog.LevelDebug), false)

	// Given the remote returns known and unknown statuses
	api.EXPECT().FetchCandidates(gomock.Any()).Return([]domain.CandidateRecord{
		{UserID: "u1", MatchStatus: "pending_sent", RequestSentAt: "2024-05-01T10:00:00Z"},
		{UserID: "u2", MatchStatus: "pending_received"},
		{UserID: "u3", MatchStatus: "superliked"},
	}, nil)

	// When fetching
	candidates, err := repository.Fetch(context.Background())

	// Then statuses are typed and the unknown one defaults to none
	req.NoError(err)
	req.Len(candidates, 3)
	req.Equal(domain.StatusPendingSent, candidates[0].Status)
	req.NotNil(candidates[0].RequestSentAt)
	req.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), *candidates[0].RequestSentAt)
	req.Equal(domain.StatusPendingReceived, candidates[1].Status)
	req.Nil(candidates[1].RequestSentAt)
	req.Equal(domain.StatusNone, candidates[2].Status)
}

func TestCandidateRepository_Strict_Mode_Fails_On_Unknown_Status(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	api := mocks.NewMockIMatchAPI(ctrl)
	repository := NewCandidateRepository(api, logs.GetLoggerFromLevel(slog.LevelDebug), true)

	api.EXPECT().FetchCandidates(gomock.Any()).Return([]domain.CandidateRecord{
		{UserID: "u3", MatchStatus: "superliked"},
	}, nil)

	_, err := repository.Fetch(context.Background())

	req.ErrorIs(err, errors.ErrUnknownMatchStatus)
}
