package models

// CropResponse is the JSON rendering of a perspective crop, returned when
// the client asks for application/json instead of image/jpeg.
type CropResponse struct {
	PanoramaID       string  `json:"panoramaId"`
	RealWorldHeading float64 `json:"realWorldHeading"`
	HeadingOffset    float64 `json:"headingOffset"`
	PanoramaHeading  float64 `json:"panoramaHeading"`
	Zoom             int     `json:"zoom"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	CacheHit         bool    `json:"cacheHit"`
	ContentType      string  `json:"contentType"`
	// Image is the base64-encoded JPEG.
	Image string `json:"image"`
}
