package services

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/model"
	"github.com/AriukCS1A/testreg/shared"
)

const (
	contentCacheTTL  = time.Minute
	locationCacheTTL = time.Minute
	presignExpiry    = 24 * time.Hour
)

// MediaService owns content records and their stored video variants:
// admin uploads land in MinIO, reads go through a short redis cache, and
// object-path URLs are resolved to presigned URLs at negotiation time.
type MediaService struct {
	appContext.DefaultService

	storageSvc *StorageService
	minioSvc   *MinIOService
	redisSvc   *RedisService
}

const MEDIA_SVC = "media_svc"

func (svc MediaService) Id() string {
	return MEDIA_SVC
}

func (svc *MediaService) Configure(ctx *appContext.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *MediaService) Start() error {
	svc.storageSvc = svc.Service(STORAGE_SVC).(*StorageService)
	svc.minioSvc = svc.Service(MINIO_SVC).(*MinIOService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	return nil
}

// ==================== CACHED READS ====================

func (svc *MediaService) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	cacheKey := "location:" + id

	if svc.redisSvc != nil {
		var cached model.Location
		if err := svc.redisSvc.GetJSON(ctx, cacheKey, &cached); err == nil && cached.ID != "" {
			return &cached, nil
		}
	}

	loc, err := svc.storageSvc.GetLocation(id)
	if err != nil {
		return nil, err
	}

	svc.cacheSet(ctx, cacheKey, loc, locationCacheTTL)
	return loc, nil
}

func (svc *MediaService) GetIntroContent(ctx context.Context) (*model.Content, error) {
	cacheKey := "content:intro"

	if svc.redisSvc != nil {
		var cached model.Content
		if err := svc.redisSvc.GetJSON(ctx, cacheKey, &cached); err == nil && cached.ID != "" {
			return &cached, nil
		}
	}

	c, err := svc.storageSvc.GetIntroContent()
	if err != nil {
		return nil, err
	}

	svc.cacheSet(ctx, cacheKey, c, contentCacheTTL)
	return c, nil
}

func (svc *MediaService) GetLocationContent(ctx context.Context, locationID string) (*model.Content, error) {
	cacheKey := "content:location:" + locationID

	if svc.redisSvc != nil {
		var cached model.Content
		if err := svc.redisSvc.GetJSON(ctx, cacheKey, &cached); err == nil && cached.ID != "" {
			return &cached, nil
		}
	}

	c, err := svc.storageSvc.GetLocationContent(locationID)
	if err != nil {
		return nil, err
	}

	svc.cacheSet(ctx, cacheKey, c, contentCacheTTL)
	return c, nil
}

func (svc *MediaService) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if svc.redisSvc == nil {
		return
	}
	if err := svc.redisSvc.Set(ctx, key, value, ttl); err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to cache record")
	}
}

// ==================== URL RESOLUTION ====================

// ResolveSources presigns any source that is a storage object key rather
// than an absolute URL. Presign failures drop the source instead of
// failing negotiation; the ranking just loses a candidate.
func (svc *MediaService) ResolveSources(sources *dto.ContentSources) *dto.ContentSources {
	if sources == nil {
		return nil
	}

	resolved := *sources
	resolved.Alpha = svc.resolveURL(sources.Alpha)
	resolved.SBS = svc.resolveURL(sources.SBS)
	resolved.Flat = svc.resolveURL(sources.Flat)
	resolved.PosterURL = svc.resolveURL(sources.PosterURL)
	return &resolved
}

func (svc *MediaService) resolveURL(raw string) string {
	if raw == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}

	url, err := svc.minioSvc.GetFileURL(raw, presignExpiry)
	if err != nil {
		log.WithError(err).WithField("object", raw).Warn("Failed to presign media object")
		return ""
	}
	return url
}

// ==================== ADMIN WRITES ====================

func (svc *MediaService) CreateLocation(req dto.CreateLocationRequest) (*model.Location, error) {
	loc := &model.Location{
		ID:           req.ID,
		Name:         req.Name,
		Lat:          req.Lat,
		Lng:          req.Lng,
		RadiusMeters: req.RadiusMeters,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := svc.storageSvc.UpsertLocation(loc); err != nil {
		return nil, shared.NewInternalError(err, "Failed to save location")
	}

	svc.invalidate("location:" + loc.ID)
	return loc, nil
}

func (svc *MediaService) CreateContent(req dto.CreateContentRequest) (*model.Content, error) {
	id := req.ID
	if id == "" {
		v7, _ := uuid.NewV7()
		id = v7.String()
	}

	locationIDs, err := json.Marshal(req.LocationIDs)
	if err != nil {
		return nil, shared.NewBadRequestError(err, "Invalid location ids")
	}
	if req.LocationIDs == nil {
		locationIDs = json.RawMessage("[]")
	}

	content := &model.Content{
		ID:          id,
		Title:       req.Title,
		Active:      req.Active,
		IsGlobal:    req.IsGlobal,
		LocationIDs: locationIDs,
		URL:         req.URL,
		Format:      req.Format,
		PosterURL:   req.PosterURL,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if len(req.URLs) > 0 {
		raw, err := json.Marshal(model.ContentURLs{
			WebM:   req.URLs["webm"],
			MP4:    req.URLs["mp4"],
			MP4SBS: req.URLs["mp4_sbs"],
		})
		if err != nil {
			return nil, shared.NewBadRequestError(err, "Invalid urls")
		}
		content.URLs = raw
	}

	if err := svc.storageSvc.CreateContent(content); err != nil {
		return nil, shared.NewInternalError(err, "Failed to create content")
	}

	svc.invalidate(contentCacheKeys(content)...)
	return content, nil
}

// UploadVariant stores one video variant (or the poster) for a content
// record and rewires the record's URL fields to the stored object key.
func (svc *MediaService) UploadVariant(contentID, kind string, file *multipart.FileHeader) (*dto.MediaUploadResponse, error) {
	content, err := svc.storageSvc.GetContent(contentID)
	if err != nil {
		return nil, shared.NewNotFoundError(err, "Content not found")
	}

	if err := validateVariantFile(kind, file.Filename); err != nil {
		return nil, shared.NewBadRequestError(err, err.Error())
	}

	if file.Size > 200*1024*1024 {
		return nil, shared.NewBadRequestError(nil, "File too large. Maximum size: 200MB")
	}

	ext := filepath.Ext(file.Filename)
	objectKey := fmt.Sprintf("videos/%s_%s_%d%s", contentID, kind, time.Now().Unix(), ext)

	src, err := file.Open()
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to open uploaded file")
	}
	defer src.Close()

	uploadInfo, err := svc.minioSvc.UploadFile(objectKey, src, file.Size, file.Header.Get("Content-Type"))
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to upload file to storage")
	}

	if err := svc.attachVariant(content, kind, objectKey); err != nil {
		svc.minioSvc.DeleteFile(objectKey)
		return nil, err
	}

	svc.invalidate(contentCacheKeys(content)...)

	url, err := svc.minioSvc.GetFileURL(objectKey, presignExpiry)
	if err != nil {
		log.WithError(err).Warn("Failed to presign uploaded object")
	}

	log.WithFields(log.Fields{
		"content_id": contentID,
		"kind":       kind,
		"object":     uploadInfo.Key,
	}).Info("Uploaded media variant")

	return &dto.MediaUploadResponse{
		ContentID: contentID,
		Kind:      kind,
		ObjectKey: objectKey,
		URL:       url,
		FileSize:  file.Size,
	}, nil
}

func (svc *MediaService) attachVariant(content *model.Content, kind, objectKey string) error {
	if kind == "poster" {
		content.PosterURL = objectKey
	} else {
		var urls model.ContentURLs
		if len(content.URLs) > 0 && string(content.URLs) != "null" {
			if err := json.Unmarshal(content.URLs, &urls); err != nil {
				return shared.NewInternalError(err, "Malformed content urls")
			}
		}

		switch kind {
		case shared.KindAlpha:
			urls.WebM = objectKey
		case shared.KindSBS:
			urls.MP4SBS = objectKey
		case shared.KindFlat:
			urls.MP4 = objectKey
		}

		raw, err := json.Marshal(urls)
		if err != nil {
			return shared.NewInternalError(err, "Failed to encode content urls")
		}
		content.URLs = raw
	}

	content.UpdatedAt = time.Now()
	if err := svc.storageSvc.SaveContent(content); err != nil {
		return shared.NewInternalError(err, "Failed to update content record")
	}
	return nil
}

func validateVariantFile(kind, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	switch kind {
	case shared.KindAlpha:
		if ext != ".webm" {
			return fmt.Errorf("alpha variant must be a WebM file")
		}
	case shared.KindSBS, shared.KindFlat:
		if ext != ".mp4" && ext != ".mov" {
			return fmt.Errorf("%s variant must be an MP4 or MOV file", kind)
		}
	case "poster":
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
			return fmt.Errorf("poster must be a JPG or PNG image")
		}
	default:
		return fmt.Errorf("unknown variant kind %q", kind)
	}
	return nil
}

// contentCacheKeys names every cache entry a content change can make
// stale: the intro slot plus one entry per bound location.
func contentCacheKeys(content *model.Content) []string {
	keys := []string{"content:intro"}

	var ids []string
	if len(content.LocationIDs) > 0 {
		if err := json.Unmarshal(content.LocationIDs, &ids); err != nil {
			log.WithError(err).WithField("content_id", content.ID).Warn("Malformed location_ids, skipping location cache keys")
		}
	}
	for _, id := range ids {
		keys = append(keys, "content:location:"+id)
	}
	return keys
}

func (svc *MediaService) invalidate(keys ...string) {
	if svc.redisSvc == nil {
		return
	}
	if err := svc.redisSvc.Delete(context.Background(), keys...); err != nil {
		log.WithError(err).Warn("Failed to invalidate cache")
	}
}
