package api

import "cinematch/domain"

type SharedMovieDTO struct {
	TmdbID      int     `json:"tmdbId" validate:"gt=0"`
	Title       string  `json:"title"`
	PosterURL   string  `json:"posterUrl"`
	ReleaseYear *string `json:"releaseYear"`
}

type CandidateDTO struct {
	UserID         string           `json:"userId" validate:"required"`
	DisplayName    string           `json:"displayName"`
	OverlapCount   int              `json:"overlapCount" validate:"gte=0"`
	SharedMovieIDs []int            `json:"sharedMovieIds"`
	SharedMovies   []SharedMovieDTO `json:"sharedMovies" validate:"dive"`
	MatchStatus    string           `json:"matchStatus"`
	RequestSentAt  string           `json:"requestSentAt"`
}

func (c CandidateDTO) toRecord() domain.CandidateRecord {
	movies := make([]domain.SharedMovie, 0, len(c.SharedMovies))
	for _, m := range c.SharedMovies {
		movies = append(movies, domain.SharedMovie{
			TmdbID:      m.TmdbID,
			Title:       m.Title,
			PosterURL:   m.PosterURL,
			ReleaseYear: m.ReleaseYear,
		})
	}
	return domain.CandidateRecord{
		UserID:         c.UserID,
		DisplayName:    c.DisplayName,
		OverlapCount:   c.OverlapCount,
		SharedMovieIDs: c.SharedMovieIDs,
		SharedMovies:   movies,
		MatchStatus:    c.MatchStatus,
		RequestSentAt:  c.RequestSentAt,
	}
}

type matchRequestDTO struct {
	TargetUserID string `json:"targetUserId" validate:"required"`
	TmdbID       int    `json:"tmdbId"`
}

type acceptResultDTO struct {
	Matched bool   `json:"matched"`
	RoomID  string `json:"roomId" validate:"required_if=Matched true"`
}

// MessageDTO carries the server names; toRecord maps them onto the client ones.
type MessageDTO struct {
	ID                string `json:"id" validate:"required"`
	RoomID            string `json:"roomId"`
	SenderID          string `json:"senderId" validate:"required"`
	SenderDisplayName string `json:"senderDisplayName"`
	Text              string `json:"text"`
	SentAt            string `json:"sentAt"`
}

func (m MessageDTO) toRecord(roomID string) domain.MessageRecord {
	if m.RoomID != "" {
		roomID = m.RoomID
	}
	return domain.MessageRecord{
		ID:         m.ID,
		RoomID:     roomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderDisplayName,
		Content:    m.Text,
		SentAt:     m.SentAt,
	}
}

type ConversationDTO struct {
	RoomID           string `json:"roomId" validate:"required"`
	OtherUserID      string `json:"otherUserId"`
	OtherDisplayName string `json:"otherDisplayName"`
	TmdbID           *int   `json:"tmdbId"`
	LastText         string `json:"lastText"`
	LastAt           string `json:"lastAt"`
}

func (c ConversationDTO) toRecord() domain.ConversationRecord {
	return domain.ConversationRecord{
		RoomID:           c.RoomID,
		OtherUserID:      c.OtherUserID,
		OtherDisplayName: c.OtherDisplayName,
		TmdbID:           c.TmdbID,
		LastText:         c.LastText,
		LastAt:           c.LastAt,
	}
}
