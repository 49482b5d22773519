package dto

type CreateLocationRequest struct {
	ID           string  `json:"id" validate:"required,max=100"`
	Name         string  `json:"name" validate:"max=200"`
	Lat          float64 `json:"lat" validate:"min=-90,max=90"`
	Lng          float64 `json:"lng" validate:"min=-180,max=180"`
	RadiusMeters float64 `json:"radius_meters" validate:"min=0,max=100000"`
}

func (r CreateLocationRequest) Validate() error {
	return GetValidator().Struct(r)
}

type CreateContentRequest struct {
	ID          string            `json:"id" validate:"omitempty,max=100"`
	Title       string            `json:"title" validate:"max=200"`
	Active      bool              `json:"active"`
	IsGlobal    bool              `json:"is_global"`
	LocationIDs []string          `json:"location_ids" validate:"omitempty,dive,max=100"`
	URL         string            `json:"url" validate:"omitempty,max=2000"`
	Format      string            `json:"format" validate:"omitempty,oneof=alpha sbs flat"`
	URLs        map[string]string `json:"urls" validate:"omitempty,dive,max=2000"`
	PosterURL   string            `json:"poster_url" validate:"omitempty,max=2000"`
}

func (r CreateContentRequest) Validate() error {
	return GetValidator().Struct(r)
}

type MediaUploadResponse struct {
	ContentID string `json:"content_id"`
	Kind      string `json:"kind"`
	ObjectKey string `json:"object_key"`
	URL       string `json:"url"`
	FileSize  int64  `json:"file_size"`
}
