package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// UploadAuditHandler writes one structured log line per UploadCreated
// event.
func UploadAuditHandler(log zerolog.Logger) Handler {
	log = log.With().Str("component", "upload_audit").Logger()
	return func(_ context.Context, body []byte) error {
		var ev UploadCreated
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		log.Info().
			Uint64("upload_id", ev.UploadID).
			Uint64("patient_id", ev.PatientID).
			Uint64("owner_id", ev.OwnerID).
			Str("body_part", ev.BodyPart).
			Int("findings", ev.Findings).
			Bool("processed", ev.Processed).
			Time("uploaded_at", ev.UploadedAt).
			Msg("upload created")
		return nil
	}
}
