package models

// ImageMeta describes the source image of a session.
type ImageMeta struct {
	Format      string `json:"format" msgpack:"format"`
	Width       int    `json:"width" msgpack:"width"`
	Height      int    `json:"height" msgpack:"height"`
	Orientation int    `json:"orientation,omitempty" msgpack:"orientation,omitempty"`
	CameraMake  string `json:"cameraMake,omitempty" msgpack:"cameraMake,omitempty"`
	CameraModel string `json:"cameraModel,omitempty" msgpack:"cameraModel,omitempty"`
	CapturedAt  string `json:"capturedAt,omitempty" msgpack:"capturedAt,omitempty"`
}
