package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/service"
)

// UserHandler serves the /user endpoints: administration plus the caller's
// shared lists.
type UserHandler struct {
	admin   *service.AdminService
	uploads *service.UploadService
}

func NewUserHandler(admin *service.AdminService, uploads *service.UploadService) *UserHandler {
	return &UserHandler{admin: admin, uploads: uploads}
}

type updateUserReq struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// List returns all users; ?sort=isAdmin|name|email|numberOfPatients&order=asc|desc.
func (h *UserHandler) List(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	users, err := h.admin.ListUsers(ctx, u, c.QueryParam("sort"), c.QueryParam("order"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Get(c echo.Context) error {
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
	got, err := h.admin.GetUser(ctx, u, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, got)
}

func (h *UserHandler) Update(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req updateUserReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	got, err := h.admin.UpdateUser(ctx, u, id, req.Name, req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, got)
}

func (h *UserHandler) Delete(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.admin.DeleteUser(c.Request().Context(), u, id); err != nil {
		return err
	}
	return message(c, http.StatusOK, "user deleted")
}

// Shared returns what other users shared with the caller.
func (h *UserHandler) Shared(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	view, err := h.uploads.ListShared(ctx, u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *UserHandler) RemoveSharedUpload(c echo.Context) error {
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
	if err := h.uploads.RemoveShared(ctx, u, id); err != nil {
		return err
	}
	return message(c, http.StatusOK, "shared upload removed")
}

func (h *UserHandler) RemoveSharedPatient(c echo.Context) error {
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
	if err := h.uploads.RemoveSharedPatient(ctx, u, id); err != nil {
		return err
	}
	return message(c, http.StatusOK, "shared patient removed")
}
