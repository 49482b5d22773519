package handlers

import (
	"context"
	"mime/multipart"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/model"
)

type GateServiceInterface interface {
	StartSession(ctx context.Context, req dto.StartSessionRequest, userAgent, clientIP string) (*dto.StartSessionResponse, error)
	Register(ctx context.Context, sessionID string, req dto.RegisterRequest, clientIP string) (*dto.RegisterResponse, error)
	StartIntro(ctx context.Context, sessionID string, req dto.StartIntroRequest) (*dto.StartPlaybackResponse, error)
	IntroEnded(sessionID string) (*dto.SessionStateResponse, error)
	StartExercise(ctx context.Context, sessionID string, req dto.StartExerciseRequest, clientIP string) (*dto.StartPlaybackResponse, error)
	Back(sessionID string) (*dto.SessionStateResponse, error)
	GetState(sessionID string) (*dto.SessionStateResponse, error)
}

type MediaServiceInterface interface {
	CreateLocation(req dto.CreateLocationRequest) (*model.Location, error)
	CreateContent(req dto.CreateContentRequest) (*model.Content, error)
	UploadVariant(contentID, kind string, file *multipart.FileHeader) (*dto.MediaUploadResponse, error)
}
