package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/service"
)

// maxReportBytes caps the PDF attached to send-email.
const maxReportBytes = 10 << 20

// UploadHandler serves X-ray uploads, sharing and report mail.
type UploadHandler struct {
	uploads *service.UploadService
}

func NewUploadHandler(uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

type shareReq struct {
	UploadID flexID `json:"uploadId"`
	Email    string `json:"email"`
}

type sharePatientReq struct {
	Email string `json:"email"`
}

type contactReq struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// formFile opens an optional multipart file. A missing file yields nil.
func formFile(c echo.Context, field string) (multipart.File, *multipart.FileHeader, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, badRequest("invalid multipart form")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return f, fh, nil
}

// Create accepts a multipart form with the patient (patientId, or the
// patient's idNumber as id), description, bodyPart and the image file. It
// blocks until the prediction is done.
func (h *UploadHandler) Create(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	in := service.NewUpload{
		PatientIDNumber: c.FormValue("id"),
		Description:     c.FormValue("description"),
		BodyPart:        c.FormValue("bodyPart"),
	}
	if raw := strings.TrimSpace(c.FormValue("patientId")); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return badRequest("invalid patientId")
		}
		in.PatientID = n
	}
	f, fh, err := formFile(c, "image")
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
		in.Image = f
		in.ContentType = fh.Header.Get(echo.HeaderContentType)
	}
	up, err := h.uploads.Create(c.Request().Context(), u, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"newUpload": up, "processedImagePath": up.ProcessedImageURL})
}

// ListForPatient returns a patient's uploads, newest first.
func (h *UploadHandler) ListForPatient(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "patientId")
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	ups, err := h.uploads.ListForPatient(ctx, u, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ups)
}

func (h *UploadHandler) Get(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "uploadId")
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	up, err := h.uploads.Get(ctx, u, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, up)
}

// Delete removes an owned upload, or drops the caller's reference to a
// shared one.
func (h *UploadHandler) Delete(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "uploadId")
	if err != nil {
		return err
	}
	refOnly, err := h.uploads.Delete(c.Request().Context(), u, id)
	if err != nil {
		return err
	}
	if refOnly {
		return message(c, http.StatusOK, "upload removed from your shared list")
	}
	return message(c, http.StatusOK, "upload deleted")
}

func (h *UploadHandler) Share(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	var req shareReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.UploadID == 0 {
		return badRequest("uploadId is required")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.uploads.Share(ctx, u, uint64(req.UploadID), req.Email); err != nil {
		return err
	}
	return message(c, http.StatusOK, "upload shared")
}

func (h *UploadHandler) SharePatient(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "patientId")
	if err != nil {
		return err
	}
	var req sharePatientReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	n, err := h.uploads.SharePatient(ctx, u, id, req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "patient shared", "sharedUploads": n})
}

// SendEmail mails a report for an upload; the multipart form carries
// uploadId, email and an optional pdf file.
func (h *UploadHandler) SendEmail(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	var id flexID
	if err := id.UnmarshalParam(c.FormValue("uploadId")); err != nil || id == 0 {
		return badRequest("uploadId is required")
	}
	var pdf []byte
	f, _, err := formFile(c, "pdf")
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
		pdf, err = io.ReadAll(io.LimitReader(f, maxReportBytes+1))
		if err != nil {
			return err
		}
		if len(pdf) > maxReportBytes {
			return badRequest("report exceeds the 10 MB limit")
		}
	}
	if err := h.uploads.SendEmail(c.Request().Context(), u, uint64(id), pdf, c.FormValue("email")); err != nil {
		return err
	}
	return message(c, http.StatusOK, "email sent")
}

// Contact forwards the public contact form.
func (h *UploadHandler) Contact(c echo.Context) error {
	var req contactReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.uploads.Contact(c.Request().Context(), req.Name, req.Email, req.Message); err != nil {
		return err
	}
	return message(c, http.StatusOK, "message sent")
}
