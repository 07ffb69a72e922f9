package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/service"
)

// PatientHandler serves the caller's patient registry.
type PatientHandler struct {
	patients *service.PatientService
}

func NewPatientHandler(patients *service.PatientService) *PatientHandler {
	return &PatientHandler{patients: patients}
}

type patientReq struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"dateOfBirth"`
	Gender      string `json:"gender"`
	IDNumber    string `json:"idNumber"`
}

type patientPatch struct {
	Name        *string `json:"name"`
	DateOfBirth *string `json:"dateOfBirth"`
	Gender      *string `json:"gender"`
	IDNumber    *string `json:"idNumber"`
}

// List returns the caller's patients; ?q= filters by name or idNumber.
func (h *PatientHandler) List(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	ps, err := h.patients.List(ctx, u.ID, c.QueryParam("q"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ps)
}

func (h *PatientHandler) Create(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	var req patientReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	p, err := h.patients.Create(ctx, u.ID, service.PatientInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *PatientHandler) Get(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	p, err := h.patients.Get(ctx, u, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Update applies a partial update; absent fields are kept.
func (h *PatientHandler) Update(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req patientPatch
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	p, err := h.patients.Update(ctx, u.ID, id, service.PatientUpdate(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Delete removes the patient with all uploads and image files.
func (h *PatientHandler) Delete(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.patients.Delete(c.Request().Context(), u.ID, id); err != nil {
		return err
	}
	return message(c, http.StatusOK, "patient deleted")
}
