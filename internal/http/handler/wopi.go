package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"wopihost/internal/service"
	"wopihost/internal/wopi"
)

// TokenFilter authorizes a files endpoint call: the access_token query
// parameter must be valid for the addressed document.
func TokenFilter(wopiSvc service.WopiService, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := wopiSvc.Authorize(c.UserContext(), c.Params("id"), c.Query(wopi.AccessTokenParam))
		switch {
		case err == nil:
			return c.Next()
		case errors.Is(err, service.ErrUnauthorized):
			log.DebugContext(c.UserContext(), "wopi token rejected",
				slog.String("request_id", requestIDFromCtx(c)),
				slog.String("file_id", c.Params("id")),
			)
			return c.SendStatus(fiber.StatusUnauthorized)
		case errors.Is(err, service.ErrNotFound):
			return c.SendStatus(fiber.StatusNotFound)
		default:
			log.ErrorContext(c.UserContext(), "wopi authorize failed",
				slog.String("request_id", requestIDFromCtx(c)),
				slog.Any("error", err),
			)
			return c.SendStatus(fiber.StatusInternalServerError)
		}
	}
}

// FolderTokenFilter only requires an access token to be present. Folder
// operations are classified but not implemented.
func FolderTokenFilter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query(wopi.AccessTokenParam) == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.Next()
	}
}

// Wopi classifies the request and hands it to the protocol engine.
//
//	@Summary	WOPI protocol endpoint
//	@Tags		wopi
//	@Param		id				path	string	true	"file id"
//	@Param		access_token	query	string	true	"access token"
//	@Param		X-WOPI-Override	header	string	false	"POST operation"
//	@Success	200
//	@Failure	400
//	@Failure	401
//	@Failure	404
//	@Failure	409
//	@Failure	500
//	@Failure	501
//	@Router		/wopi/files/{id} [get]
//	@Router		/wopi/files/{id} [post]
//	@Router		/wopi/files/{id}/contents [get]
//	@Router		/wopi/files/{id}/contents [post]
func Wopi(wopiSvc service.WopiService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := http.Header{}
		c.Request().Header.VisitAll(func(k, v []byte) {
			h.Add(string(k), string(v))
		})

		desc := wopi.Classify(c.Path(), c.Method(), h)
		desc.AccessToken = c.Query(wopi.AccessTokenParam)

		resp := wopiSvc.Dispatch(c.UserContext(), service.WopiRequest{
			Descriptor: desc,
			Header:     h,
			Body:       c.Body(),
			URL:        requestURL(c),
			Authority:  c.Hostname(),
		})

		for k, vs := range resp.Header {
			for _, v := range vs {
				c.Response().Header.Add(k, v)
			}
		}
		if resp.ContentType != "" {
			c.Set(fiber.HeaderContentType, resp.ContentType)
		}
		c.Status(resp.Status)
		if len(resp.Body) == 0 {
			return nil
		}
		return c.Send(resp.Body)
	}
}

// requestURL rebuilds the absolute URL the client called, as signed by the
// proof headers.
func requestURL(c *fiber.Ctx) string {
	return scheme(c) + "://" + c.Hostname() + c.OriginalURL()
}

// scheme prefers the first X-Forwarded-Proto value set by a TLS-terminating proxy.
func scheme(c *fiber.Ctx) string {
	if proto := c.Get(fiber.HeaderXForwardedProto); proto != "" {
		return strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return c.Protocol()
}
