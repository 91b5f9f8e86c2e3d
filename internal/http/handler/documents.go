package handler

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"wopihost/internal/service"
)

const (
	// UserIDHeader carries the caller identity set by the authenticating proxy.
	UserIDHeader = "X-User-Id"
	// UserIDLocalKey is the key the caller identity is stored under in Fiber's context locals.
	UserIDLocalKey = "user_id"
)

// RequireUser rejects requests without a caller identity.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Get(UserIDHeader)
		if user == "" {
			return writeError(c, fiber.StatusUnauthorized, "UNAUTHENTICATED", "user identity is required")
		}
		c.Locals(UserIDLocalKey, user)
		return c.Next()
	}
}

func userFromCtx(c *fiber.Ctx) string {
	if s, ok := c.Locals(UserIDLocalKey).(string); ok && s != "" {
		return s
	}
	return c.Get(UserIDHeader)
}

// ListDocuments lists the caller's files with limit & offset.
//
//	@Summary	List files
//	@Tags		files
//	@Produce	json
//	@Param		X-User-Id	header		string	true	"caller identity"
//	@Param		limit		query		int		false	"page size"	default(10)
//	@Param		offset		query		int		false	"page offset"	default(0)
//	@Success	200			{object}	service.DocumentListResult
//	@Failure	400			{object}	errorPayload
//	@Router		/api/files [get]
func ListDocuments(docSvc service.DocumentService, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := docSvc.List(c.UserContext(), userFromCtx(c), limit, offset)
		if err != nil {
			return writeInternal(c, log, "list documents failed", err)
		}
		return c.JSON(res)
	}
}

// UploadDocument stores a new file (multipart/form-data, field name: file).
//
//	@Summary	Upload a file
//	@Tags		files
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		X-User-Id	header		string	true	"caller identity"
//	@Param		file		formData	file	true	"file content"
//	@Success	201			{object}	model.Document
//	@Failure	400			{object}	errorPayload
//	@Router		/api/files [post]
func UploadDocument(docSvc service.DocumentService, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		doc, err := docSvc.Upload(c.UserContext(), userFromCtx(c), f, fh.Filename)
		if err != nil {
			if errors.Is(err, service.ErrFilenameRequired) {
				return writeError(c, fiber.StatusBadRequest, "FILENAME_REQUIRED", "filename is required")
			}
			return writeInternal(c, log, "upload document failed", err)
		}
		return c.Status(fiber.StatusCreated).JSON(doc)
	}
}

// GetDocument returns the metadata of one of the caller's files.
//
//	@Summary	Get a file
//	@Tags		files
//	@Produce	json
//	@Param		X-User-Id	header		string	true	"caller identity"
//	@Param		id			path		string	true	"file id"
//	@Success	200			{object}	model.Document
//	@Failure	404			{object}	errorPayload
//	@Router		/api/files/{id} [get]
func GetDocument(docSvc service.DocumentService, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := docSvc.Get(c.UserContext(), userFromCtx(c), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			}
			return writeInternal(c, log, "get document failed", err)
		}
		return c.JSON(doc)
	}
}

// DeleteDocument removes one of the caller's files.
//
//	@Summary	Delete a file
//	@Tags		files
//	@Param		X-User-Id	header	string	true	"caller identity"
//	@Param		id			path	string	true	"file id"
//	@Success	204
//	@Failure	404	{object}	errorPayload
//	@Router		/api/files/{id} [delete]
func DeleteDocument(docSvc service.DocumentService, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := docSvc.Delete(c.UserContext(), userFromCtx(c), id); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			}
			return writeInternal(c, log, "delete document failed", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// LaunchDocument issues an access token and the editor URL for a file.
//
//	@Summary	Launch a file in the editor
//	@Tags		files
//	@Produce	json
//	@Param		X-User-Id	header		string	true	"caller identity"
//	@Param		id			path		string	true	"file id"
//	@Param		action		query		string	false	"discovery action"	default(view)
//	@Success	200			{object}	service.LaunchInfo
//	@Failure	404			{object}	errorPayload
//	@Failure	422			{object}	errorPayload
//	@Router		/api/files/{id}/launch [get]
func LaunchDocument(docSvc service.DocumentService, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		info, err := docSvc.Launch(c.UserContext(), userFromCtx(c), id, c.Query("action", "view"), c.Hostname())
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			case errors.Is(err, service.ErrUnknownAction):
				return writeError(c, fiber.StatusUnprocessableEntity, "UNKNOWN_ACTION", "action is not available for this file type")
			}
			return writeInternal(c, log, "launch document failed", err)
		}
		return c.JSON(info)
	}
}
