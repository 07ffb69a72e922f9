package model

import "time"

// Prediction is the structured output of the fracture detector: one box per
// finding and the detector's confidence for each box.
type Prediction struct {
	Boxes       [][]float64 `json:"boxes"`
	Confidences []float64   `json:"confidences"`
}

// Upload links an X-ray image to a patient together with its prediction.
// OriginalImage and ProcessedImage hold storage names; the URL fields are
// filled in by the service layer when the record is returned to clients.
type Upload struct {
	ID                uint64      `json:"id"`
	OwnerID           uint64      `json:"ownerUserId"`
	PatientID         uint64      `json:"patientId"`
	PatientName       string      `json:"patientName"`
	Description       string      `json:"description"`
	BodyPart          string      `json:"bodyPart"`
	OriginalImage     string      `json:"originalImageId"`
	OriginalImageURL  string      `json:"originalImageUrl"`
	ProcessedImage    *string     `json:"processedImageId"`
	ProcessedImageURL *string     `json:"processedImageUrl"`
	Prediction        *Prediction `json:"prediction"`
	DateUploaded      time.Time   `json:"dateUploaded"`
}
