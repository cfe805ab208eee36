package domain

// StartStreamRequest is the body of POST /start-stream/.
type StartStreamRequest struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// ActiveCamera is one entry of GET /active-cameras, a stream that already
// exists on the gateway.
type ActiveCamera struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// ActiveCamerasResponse is the envelope returned by GET /active-cameras.
type ActiveCamerasResponse struct {
	ActiveCameras []ActiveCamera `json:"active_cameras"`
}
